package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/session-coordinator/internal/domain"
	"github.com/clinicore/session-coordinator/internal/room"
	httpmw "github.com/clinicore/session-coordinator/internal/transport/http/middleware"
)

// Handler is the REST surface for non-WS callers: state reads, log backfill,
// transcription ingest and the mutating room operations. Live delivery is the
// WS server's job.
type Handler struct {
	registry *room.Registry
}

func NewHandler(registry *room.Registry) *Handler {
	return &Handler{registry: registry}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps domain errors onto HTTP statuses; invalid recording
// transitions carry the authoritative state in the body.
func writeErr(w http.ResponseWriter, err error) {
	var ite *domain.InvalidTransitionError
	switch {
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), RecordingState: ite.State})
	case errors.Is(err, domain.ErrNotClinician), errors.Is(err, domain.ErrDeleteForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAdmissionRequired):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotQueued), errors.Is(err, domain.ErrEntryNotFound), errors.Is(err, domain.ErrNotInRoom):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrClinicianQueued), errors.Is(err, domain.ErrUnknownChannel):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		slog.Error("handler error", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (h *Handler) roomFrom(r *http.Request) *room.Room {
	return h.registry.Get(chi.URLParam(r, "id"))
}

// GET /rooms/{id}/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.roomFrom(r).Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	items, err := h.roomFrom(r).Participants(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantsResponse{Items: items})
}

// GET /rooms/{id}/waiting — clinician only
func (h *Handler) GetWaiting(w http.ResponseWriter, r *http.Request) {
	rm := h.roomFrom(r)
	if !h.requireClinician(w, r, rm) {
		return
	}
	items, err := rm.WaitingList(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WaitingListResponse{Items: items})
}

// POST /rooms/{id}/waiting/admit
func (h *Handler) Admit(w http.ResponseWriter, r *http.Request) {
	var req AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if err := h.roomFrom(r).Admit(r.Context(), req.UserID, httpmw.UserIDFromCtx(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "admitted"})
}

// POST /rooms/{id}/waiting/leave
func (h *Handler) LeaveWaiting(w http.ResponseWriter, r *http.Request) {
	if err := h.roomFrom(r).LeaveQueue(r.Context(), httpmw.UserIDFromCtx(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// POST /rooms/{id}/recording/start
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	rm := h.roomFrom(r)
	if !h.requireClinician(w, r, rm) {
		return
	}
	var req RecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	rec, err := rm.StartRecording(r.Context(), domain.RecordingQuality(req.Quality))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// POST /rooms/{id}/recording/{action} for pause|resume|stop
func (h *Handler) RecordingTransition(w http.ResponseWriter, r *http.Request) {
	rm := h.roomFrom(r)
	if !h.requireClinician(w, r, rm) {
		return
	}
	var rec domain.RecordingSession
	var err error
	switch chi.URLParam(r, "action") {
	case "pause":
		rec, err = rm.PauseRecording(r.Context())
	case "resume":
		rec, err = rm.ResumeRecording(r.Context())
	case "stop":
		rec, err = rm.StopRecording(r.Context())
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown action"})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PUT /rooms/{id}/recording/quality
func (h *Handler) SetRecordingQuality(w http.ResponseWriter, r *http.Request) {
	rm := h.roomFrom(r)
	if !h.requireClinician(w, r, rm) {
		return
	}
	var req RecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if err := rm.SetRecordingQuality(r.Context(), domain.RecordingQuality(req.Quality)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "staged"})
}

// POST /rooms/{id}/logs/{channel}
func (h *Handler) AppendLog(w http.ResponseWriter, r *http.Request) {
	ch := domain.Channel(chi.URLParam(r, "channel"))
	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	author := httpmw.UserIDFromCtx(r.Context())
	// Only the transcription ingest path may append on someone's behalf.
	if req.AuthorID != "" && ch == domain.ChannelTranscription {
		author = req.AuthorID
	}
	entry, accepted, err := h.roomFrom(r).Append(r.Context(), ch, room.AppendInput{
		ID:       req.EntryID,
		AuthorID: author,
		StartMs:  req.StartMs,
		Payload:  req.Body,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AppendResponse{Entry: entry, Duplicate: !accepted})
}

// DELETE /rooms/{id}/logs/{channel}/{entryID}
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	err := h.roomFrom(r).DeleteEntry(r.Context(),
		domain.Channel(chi.URLParam(r, "channel")),
		chi.URLParam(r, "entryID"),
		httpmw.UserIDFromCtx(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /rooms/{id}/logs/{channel}?since=
func (h *Handler) BackfillLog(w http.ResponseWriter, r *http.Request) {
	ch := domain.Channel(chi.URLParam(r, "channel"))
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid since"})
			return
		}
		since = n
	}
	entries, complete, err := h.roomFrom(r).LogBackfill(r.Context(), ch, since)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BackfillResponse{Channel: string(ch), Entries: entries, Complete: complete})
}

// POST /rooms/{id}/quality
func (h *Handler) ReportQuality(w http.ResponseWriter, r *http.Request) {
	var req QualityReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	err := h.roomFrom(r).ReportQuality(r.Context(), domain.QualitySample{
		UserID:    httpmw.UserIDFromCtx(r.Context()),
		Network:   req.Network,
		Audio:     req.Audio,
		Video:     req.Video,
		LatencyMs: req.LatencyMs,
		JitterMs:  req.JitterMs,
		LossPct:   req.LossPct,
		AudioKbps: req.AudioKbps,
		VideoKbps: req.VideoKbps,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reported"})
}

// GET /rooms/{id}/quality — clinician only; raw samples are served on demand,
// never pushed.
func (h *Handler) GetQuality(w http.ResponseWriter, r *http.Request) {
	rm := h.roomFrom(r)
	if !h.requireClinician(w, r, rm) {
		return
	}
	snap, err := rm.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	samples, err := rm.QualitySamples(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QualityResponse{Rating: snap.Quality, Samples: samples})
}

func (h *Handler) requireClinician(w http.ResponseWriter, r *http.Request, rm *room.Room) bool {
	ok, err := rm.IsClinician(r.Context(), httpmw.UserIDFromCtx(r.Context()))
	if err != nil {
		writeErr(w, err)
		return false
	}
	if !ok {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: domain.ErrNotClinician.Error()})
		return false
	}
	return true
}
