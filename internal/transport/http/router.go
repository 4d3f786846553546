package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"

	"github.com/clinicore/session-coordinator/internal/room"
	httpmw "github.com/clinicore/session-coordinator/internal/transport/http/middleware"
	"github.com/clinicore/session-coordinator/internal/transport/ws"
)

func NewRouter(h *Handler, registry *room.Registry, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	// WS endpoint
	r.Get("/ws/rooms/{id}", wsServer.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.AuthMiddleware)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/rooms/{id}", func(rr chi.Router) {
			rr.Get("/state", h.GetState)
			rr.Get("/participants", h.GetParticipants)

			rr.Get("/waiting", h.GetWaiting)
			rr.Post("/waiting/admit", h.Admit)
			rr.Post("/waiting/leave", h.LeaveWaiting)

			rr.Post("/recording/start", h.StartRecording)
			rr.Post("/recording/{action}", h.RecordingTransition)
			rr.Put("/recording/quality", h.SetRecordingQuality)

			rr.Get("/logs/{channel}", h.BackfillLog)
			rr.Post("/logs/{channel}", h.AppendLog)
			rr.Delete("/logs/{channel}/{entryID}", h.DeleteLog)

			rr.Get("/quality", h.GetQuality)
			rr.Post("/quality", h.ReportQuality)
		})
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","rooms":%d}`, registry.Count())
	})

	return r
}
