package room

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

func TestJoinUnknownSession(t *testing.T) {
	r, _, _, _ := newTestRoom(t, Options{})
	if _, err := r.Join(context.Background(), "ghost", ""); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestJoinWithoutAdmission(t *testing.T) {
	r, _, _, _ := newTestRoom(t, Options{})
	subscribeUser(t, r, "s1", "pat", domain.RolePatient)

	if _, err := r.Join(context.Background(), "s1", ""); !errors.Is(err, domain.ErrAdmissionRequired) {
		t.Fatalf("err = %v, want ErrAdmissionRequired", err)
	}
	if _, err := r.Join(context.Background(), "s1", "made-up"); !errors.Is(err, domain.ErrAdmissionRequired) {
		t.Fatalf("bogus token err = %v, want ErrAdmissionRequired", err)
	}
}

func TestEnqueueRejectsClinician(t *testing.T) {
	r, _, _, _ := newTestRoom(t, Options{})
	sub := joinClinician(t, r, "c1", "doc")

	if _, err := r.Enqueue(context.Background(), sub.Session); !errors.Is(err, domain.ErrClinicianQueued) {
		t.Fatalf("err = %v, want ErrClinicianQueued", err)
	}
}

func TestAdmissionFlow(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})

	clin := joinClinician(t, r, "c1", "doc")
	pat := subscribeUser(t, r, "p1", "alice", domain.RolePatient)

	res, err := r.Enqueue(ctx, pat.Session)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.Position != 0 {
		t.Fatalf("position = %d, want 0", res.Position)
	}
	waitEvent(t, clin.Events, domain.EventWaitingJoined)

	if err := r.Admit(ctx, "alice", "alice"); !errors.Is(err, domain.ErrNotClinician) {
		t.Fatalf("self-admit err = %v, want ErrNotClinician", err)
	}
	if err := r.Admit(ctx, "nobody", "doc"); !errors.Is(err, domain.ErrNotQueued) {
		t.Fatalf("admit unqueued err = %v, want ErrNotQueued", err)
	}

	if err := r.Admit(ctx, "alice", "doc"); err != nil {
		t.Fatalf("admit: %v", err)
	}

	// The broadcast copy carries no token; only alice's targeted copy does.
	evt := waitEvent(t, clin.Events, domain.EventWaitingAdmitted)
	if p := evt.Payload.(domain.WaitingAdmittedPayload); p.AdmissionToken != "" {
		t.Fatalf("broadcast admitted event leaked a token")
	}
	evt = waitEventMatch(t, pat.Events, domain.EventWaitingAdmitted, func(e domain.Event) bool {
		return e.Payload.(domain.WaitingAdmittedPayload).AdmissionToken != ""
	})
	token := evt.Payload.(domain.WaitingAdmittedPayload).AdmissionToken

	if _, err := r.Join(ctx, "p1", token); err != nil {
		t.Fatalf("join with admission token: %v", err)
	}
	waitEvent(t, clin.Events, domain.EventParticipantJoined)

	list, err := r.WaitingList(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("waiting list after admit = %v (err %v), want empty", list, err)
	}

	// The token is spent, but alice is present now, so more sessions of hers
	// attach without one.
	subscribeUser(t, r, "p2", "alice", domain.RolePatient)
	if _, err := r.Join(ctx, "p2", ""); err != nil {
		t.Fatalf("second session join: %v", err)
	}

	// Once she fully leaves, the spent token no longer opens the door.
	if err := r.Leave(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Leave(ctx, "p2"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, clin.Events, domain.EventParticipantLeft)
	subscribeUser(t, r, "p3", "alice", domain.RolePatient)
	if _, err := r.Join(ctx, "p3", token); !errors.Is(err, domain.ErrAdmissionRequired) {
		t.Fatalf("spent token err = %v, want ErrAdmissionRequired", err)
	}
}

func TestMultiSessionPresence(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{GracePeriod: 30 * time.Millisecond})
	clin := joinClinician(t, r, "c1", "doc")

	pat := subscribeUser(t, r, "p1", "alice", domain.RolePatient)
	if _, err := r.Enqueue(ctx, pat.Session); err != nil {
		t.Fatal(err)
	}
	if err := r.Admit(ctx, "alice", "doc"); err != nil {
		t.Fatal(err)
	}
	evt := waitEventMatch(t, pat.Events, domain.EventWaitingAdmitted, func(e domain.Event) bool {
		return e.Payload.(domain.WaitingAdmittedPayload).AdmissionToken != ""
	})
	token := evt.Payload.(domain.WaitingAdmittedPayload).AdmissionToken
	if _, err := r.Join(ctx, "p1", token); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, clin.Events, domain.EventParticipantJoined)

	// A second tab of a present user joins without a token and without a
	// second participant_joined.
	subscribeUser(t, r, "p2", "alice", domain.RolePatient)
	if _, err := r.Join(ctx, "p2", ""); err != nil {
		t.Fatalf("second session join: %v", err)
	}
	expectNoEvent(t, clin.Events, domain.EventParticipantJoined, 50*time.Millisecond)

	parts, err := r.Participants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	alice := 0
	for _, p := range parts {
		if p.UserID == "alice" {
			alice++
		}
	}
	if alice != 1 {
		t.Fatalf("alice appears %d times in the roster, want 1", alice)
	}

	// Dropping the first tab keeps her present, so an in-grace reconnect
	// needs no token either.
	r.Detach("p1")
	expectNoEvent(t, clin.Events, domain.EventParticipantLeft, 50*time.Millisecond)
	subscribeUser(t, r, "p1b", "alice", domain.RolePatient)
	if _, err := r.Join(ctx, "p1b", ""); err != nil {
		t.Fatalf("in-grace reconnect join: %v", err)
	}

	// Only the final session out publishes participant_left.
	if err := r.Leave(ctx, "p1b"); err != nil {
		t.Fatal(err)
	}
	if err := r.Leave(ctx, "p2"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, clin.Events, domain.EventParticipantLeft)
	expectNoEvent(t, clin.Events, domain.EventParticipantLeft, 50*time.Millisecond)
}

func TestAdmitIssuerDown(t *testing.T) {
	ctx := context.Background()
	r, _, _, tok := newTestRoom(t, Options{})
	joinClinician(t, r, "c1", "doc")
	pat := subscribeUser(t, r, "p1", "alice", domain.RolePatient)
	if _, err := r.Enqueue(ctx, pat.Session); err != nil {
		t.Fatal(err)
	}

	tok.failIssue = true
	if err := r.Admit(ctx, "alice", "doc"); err == nil {
		t.Fatalf("admit should surface the issuer failure")
	}
	// The entry must survive a failed admit.
	list, _ := r.WaitingList(ctx)
	if len(list) != 1 || list[0].UserID != "alice" {
		t.Fatalf("alice should still be queued, got %v", list)
	}
}

func TestQueuePositionNotifications(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})
	joinClinician(t, r, "c1", "doc")

	first := subscribeUser(t, r, "p1", "u-first", domain.RolePatient)
	second := subscribeUser(t, r, "p2", "u-second", domain.RolePatient)
	third := subscribeUser(t, r, "p3", "u-third", domain.RolePatient)
	for _, sub := range []*Subscription{first, second, third} {
		if _, err := r.Enqueue(ctx, sub.Session); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.LeaveQueue(ctx, "u-first"); err != nil {
		t.Fatal(err)
	}

	evt := waitEvent(t, second.Events, domain.EventWaitingPositionChange)
	if p := evt.Payload.(domain.WaitingPositionPayload); p.Position != 0 {
		t.Fatalf("u-second shifted to position %d, want 0", p.Position)
	}
	evt = waitEvent(t, third.Events, domain.EventWaitingPositionChange)
	if p := evt.Payload.(domain.WaitingPositionPayload); p.Position != 1 {
		t.Fatalf("u-third shifted to position %d, want 1", p.Position)
	}
	// The head departure shifts everyone; but removing the tail would notify
	// nobody, and the still-queued second entry must not hear about itself
	// twice.
	expectNoEvent(t, second.Events, domain.EventWaitingPositionChange, 50*time.Millisecond)
}

func TestStartRecordingRelayFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	r, _, relay, _ := newTestRoom(t, Options{})
	joinClinician(t, r, "c1", "doc")

	relay.failStart = true
	if _, err := r.StartRecording(ctx, domain.QualityTierHigh); err == nil {
		t.Fatalf("start should surface the relay failure")
	}
	snap, _ := r.Recording(ctx)
	if snap.State != domain.RecordingIdle {
		t.Fatalf("state after failed start = %q, want idle", snap.State)
	}

	// The room recovers once the relay does.
	relay.failStart = false
	snap, err := r.StartRecording(ctx, "")
	if err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if snap.RecordingID == "" || snap.Quality != domain.QualityTierHigh {
		t.Fatalf("retried start = %+v, want a handle and the staged high tier", snap)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	ctx := context.Background()
	r, _, relay, _ := newTestRoom(t, Options{})
	clin := joinClinician(t, r, "c1", "doc")

	snap, err := r.StartRecording(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEvent(t, clin.Events, domain.EventRecordingStarted)

	if _, err := r.PauseRecording(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitEvent(t, clin.Events, domain.EventRecordingPaused)

	if _, err := r.ResumeRecording(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitEvent(t, clin.Events, domain.EventRecordingResumed)

	stopped, err := r.StopRecording(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.RecordingID != snap.RecordingID {
		t.Fatalf("stopped a different instance: %q vs %q", stopped.RecordingID, snap.RecordingID)
	}
	waitEvent(t, clin.Events, domain.EventRecordingStopped)

	eventually(t, func() bool {
		ids := relay.stoppedIDs()
		return len(ids) == 1 && ids[0] == snap.RecordingID
	}, "relay stop call")

	// pause without an active recording reports the current state.
	_, err = r.PauseRecording(ctx)
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) || ite.State != domain.RecordingStopped {
		t.Fatalf("pause after stop err = %v, want InvalidTransitionError in stopped", err)
	}
}

func TestSetRecordingQuality(t *testing.T) {
	ctx := context.Background()
	r, _, relay, _ := newTestRoom(t, Options{})
	joinClinician(t, r, "c1", "doc")

	if err := r.SetRecordingQuality(ctx, "4k"); err == nil {
		t.Fatalf("unknown tier should be rejected")
	}
	if err := r.SetRecordingQuality(ctx, domain.QualityTierLow); err != nil {
		t.Fatalf("set quality: %v", err)
	}
	eventually(t, func() bool { return relay.hintCount() == 1 }, "relay quality hint")

	snap, err := r.StartRecording(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Quality != domain.QualityTierLow {
		t.Fatalf("start picked up %q, want the staged low", snap.Quality)
	}
}

func TestAppendRequiresPresence(t *testing.T) {
	r, _, _, _ := newTestRoom(t, Options{})
	_, _, err := r.Append(context.Background(), domain.ChannelChat, AppendInput{
		AuthorID: "stranger",
		Payload:  json.RawMessage(`{"text":"hi"}`),
	})
	if !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("err = %v, want ErrNotInRoom", err)
	}
}

func TestAppendDedupSingleBroadcast(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})
	clin := joinClinician(t, r, "c1", "doc")

	in := AppendInput{ID: "msg-1", AuthorID: "doc", Payload: json.RawMessage(`{"text":"hello"}`)}
	entry, accepted, err := r.Append(ctx, domain.ChannelChat, in)
	if err != nil || !accepted {
		t.Fatalf("first append: accepted=%v err=%v", accepted, err)
	}
	if entry.Seq != 1 {
		t.Fatalf("seq = %d, want 1", entry.Seq)
	}

	dup, accepted, err := r.Append(ctx, domain.ChannelChat, in)
	if err != nil || accepted {
		t.Fatalf("duplicate append: accepted=%v err=%v, want success without acceptance", accepted, err)
	}
	if dup.Seq != entry.Seq {
		t.Fatalf("duplicate seq = %d, want the stored %d", dup.Seq, entry.Seq)
	}

	waitEvent(t, clin.Events, domain.EventLogAppended)
	expectNoEvent(t, clin.Events, domain.EventLogAppended, 50*time.Millisecond)
}

func TestAppendUnknownChannel(t *testing.T) {
	r, _, _, _ := newTestRoom(t, Options{})
	if _, _, err := r.Append(context.Background(), "doodles", AppendInput{AuthorID: "x"}); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
}

func TestTranscriptionIngestAndBackfill(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})
	joinClinician(t, r, "c1", "doc")

	// Segments arrive out of order and for a speaker with no live session.
	for _, seg := range []struct {
		id      string
		startMs int64
	}{{"seg-b", 4000}, {"seg-a", 1500}} {
		_, accepted, err := r.Append(ctx, domain.ChannelTranscription, AppendInput{
			ID:       seg.id,
			AuthorID: "gone-speaker",
			StartMs:  seg.startMs,
			Payload:  json.RawMessage(`{"text":"..."}`),
		})
		if err != nil || !accepted {
			t.Fatalf("append %s: accepted=%v err=%v", seg.id, accepted, err)
		}
	}

	out, complete, err := r.LogBackfill(ctx, domain.ChannelTranscription, 1000)
	if err != nil || !complete {
		t.Fatalf("backfill: complete=%v err=%v", complete, err)
	}
	if len(out) != 2 || out[0].ID != "seg-a" || out[1].ID != "seg-b" {
		t.Fatalf("segments not in start-time order: %+v", out)
	}

	out, _, err = r.LogBackfill(ctx, domain.ChannelTranscription, 2000)
	if err != nil || len(out) != 1 || out[0].ID != "seg-b" {
		t.Fatalf("offset backfill = %+v (err %v), want only seg-b", out, err)
	}
}

func TestDeleteEntryPermissions(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})
	clin := joinClinician(t, r, "c1", "doc")
	joinClinician(t, r, "c2", "author") // easiest way to give the author presence

	entry, _, err := r.Append(ctx, domain.ChannelAnnotation, AppendInput{
		AuthorID: "author",
		Payload:  json.RawMessage(`{"shape":"arrow"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteEntry(ctx, domain.ChannelChat, entry.ID, "author"); !errors.Is(err, domain.ErrDeleteForbidden) {
		t.Fatalf("chat delete err = %v, want ErrDeleteForbidden", err)
	}
	if err := r.DeleteEntry(ctx, domain.ChannelAnnotation, "missing", "doc"); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("missing entry err = %v, want ErrEntryNotFound", err)
	}

	if err := r.DeleteEntry(ctx, domain.ChannelAnnotation, entry.ID, "doc"); err != nil {
		t.Fatalf("clinician delete: %v", err)
	}
	evt := waitEvent(t, clin.Events, domain.EventLogDeleted)
	p := evt.Payload.(domain.LogDeletedPayload)
	if p.EntryID != entry.ID || p.DeletedBy != "doc" {
		t.Fatalf("tombstone = %+v", p)
	}

	if err := r.DeleteEntry(ctx, domain.ChannelAnnotation, entry.ID, "doc"); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("re-delete err = %v, want ErrEntryNotFound", err)
	}
}

func TestDeleteEntryNonAuthorRejected(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})
	joinClinician(t, r, "c1", "author")

	entry, _, err := r.Append(ctx, domain.ChannelAnnotation, AppendInput{
		AuthorID: "author",
		Payload:  json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteEntry(ctx, domain.ChannelAnnotation, entry.ID, "bystander"); !errors.Is(err, domain.ErrDeleteForbidden) {
		t.Fatalf("err = %v, want ErrDeleteForbidden", err)
	}
}

func TestReportQualityBroadcastsOnChange(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})
	observer := joinClinician(t, r, "c1", "doc")
	joinClinician(t, r, "c2", "peer")

	err := r.ReportQuality(ctx, domain.QualitySample{
		UserID: "nobody", Network: domain.RatingGood, Audio: domain.RatingGood, Video: domain.RatingGood,
	})
	if !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("absent reporter err = %v, want ErrNotInRoom", err)
	}

	poor := domain.QualitySample{
		UserID: "peer", Network: domain.RatingPoor, Audio: domain.RatingGood, Video: domain.RatingGood,
	}
	if err := r.ReportQuality(ctx, poor); err != nil {
		t.Fatal(err)
	}
	evt := waitEvent(t, observer.Events, domain.EventQualityChanged)
	if p := evt.Payload.(domain.QualityChangedPayload); p.Rating != domain.RatingPoor {
		t.Fatalf("rating = %q, want poor", p.Rating)
	}

	// Same classification again: no broadcast.
	if err := r.ReportQuality(ctx, poor); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, observer.Events, domain.EventQualityChanged, 50*time.Millisecond)

	// The struggling participant leaving restores the room classification.
	if err := r.Leave(ctx, "c2"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, observer.Events, domain.EventParticipantLeft)
	evt = waitEvent(t, observer.Events, domain.EventQualityChanged)
	if p := evt.Payload.(domain.QualityChangedPayload); p.Rating != domain.RatingExcellent {
		t.Fatalf("rating after drop = %q, want excellent", p.Rating)
	}

	samples, err := r.QualitySamples(ctx)
	if err != nil || len(samples) != 0 {
		t.Fatalf("samples after drop = %v (err %v), want none", samples, err)
	}
}

func TestDetachGracePublishesLeft(t *testing.T) {
	r, _, _, _ := newTestRoom(t, Options{GracePeriod: 30 * time.Millisecond})
	observer := joinClinician(t, r, "c1", "doc")
	joinClinician(t, r, "c2", "flaky")

	r.Detach("c2")
	evt := waitEvent(t, observer.Events, domain.EventParticipantLeft)
	if p := evt.Payload.(domain.ParticipantEventPayload); p.Participant.UserID != "flaky" {
		t.Fatalf("left participant = %q, want flaky", p.Participant.UserID)
	}
}

func TestDetachReconnectWithinGrace(t *testing.T) {
	r, _, _, _ := newTestRoom(t, Options{GracePeriod: 50 * time.Millisecond})
	observer := joinClinician(t, r, "c1", "doc")
	joinClinician(t, r, "c2", "flaky")

	r.Detach("c2")
	// Reconnect as a fresh session before the grace runs out.
	joinClinician(t, r, "c3", "flaky")

	expectNoEvent(t, observer.Events, domain.EventParticipantLeft, 150*time.Millisecond)

	parts, err := r.Participants(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("participants = %+v, want doc and flaky", parts)
	}
}

func TestSubscribeBackfill(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{})
	joinClinician(t, r, "c1", "doc") // seq 1: participant_joined

	for i := 0; i < 3; i++ { // seq 2..4
		if _, _, err := r.Append(ctx, domain.ChannelChat, AppendInput{
			AuthorID: "doc", Payload: json.RawMessage(`{"text":"hi"}`),
		}); err != nil {
			t.Fatal(err)
		}
	}

	sub, err := r.Subscribe(ctx, Session{ID: "c9", UserID: "doc", Role: domain.RoleClinician}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !sub.Complete {
		t.Fatalf("window covers seq 2, catch-up should be complete")
	}
	if len(sub.Backfill) != 2 || sub.Backfill[0].Seq != 3 {
		t.Fatalf("backfill = %+v, want seq 3 and 4", sub.Backfill)
	}
	if sub.Snapshot.Seq != 4 {
		t.Fatalf("snapshot seq = %d, want 4", sub.Snapshot.Seq)
	}
	if len(sub.Snapshot.Participants) != 1 {
		t.Fatalf("snapshot participants = %+v", sub.Snapshot.Participants)
	}
}

func TestSubscribeBackfillBeyondWindow(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRoom(t, Options{BusWindow: 4})
	joinClinician(t, r, "c1", "doc")

	for i := 0; i < 10; i++ {
		if _, _, err := r.Append(ctx, domain.ChannelChat, AppendInput{
			AuthorID: "doc", Payload: json.RawMessage(`{}`),
		}); err != nil {
			t.Fatal(err)
		}
	}

	sub, err := r.Subscribe(ctx, Session{ID: "c9", UserID: "doc", Role: domain.RoleClinician}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Complete {
		t.Fatalf("since=1 outlived the window, catch-up must be incomplete")
	}
}

func TestRoomClosedRejectsOps(t *testing.T) {
	store := newFakeStore()
	r := newRoom("dead-room", Options{}.withDefaults(), store, &fakeRelay{}, newFakeTokens(), nil)
	r.stop()

	if _, err := r.Participants(context.Background()); !errors.Is(err, domain.ErrRoomClosed) {
		t.Fatalf("err = %v, want ErrRoomClosed", err)
	}
}
