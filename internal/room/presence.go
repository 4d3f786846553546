package room

import (
	"sort"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// presence tracks which sessions are in the call, deduplicated by user ID for
// the room-facing view. Only touched from the room loop.
type presence struct {
	sessions map[string]domain.ParticipantSession // session ID -> session
	byUser   map[string][]string                  // user ID -> session IDs, oldest first
	joinedAt map[string]time.Time                 // user ID -> first session join
}

func newPresence() *presence {
	return &presence{
		sessions: make(map[string]domain.ParticipantSession),
		byUser:   make(map[string][]string),
		joinedAt: make(map[string]time.Time),
	}
}

// join registers a session. first is true when this is the user's only
// session, i.e. the moment the user actually entered the call.
func (p *presence) join(s domain.ParticipantSession) (view domain.Participant, first bool) {
	if _, dup := p.sessions[s.SessionID]; dup {
		return p.view(s.UserID), false
	}
	p.sessions[s.SessionID] = s

	ids := p.byUser[s.UserID]
	first = len(ids) == 0
	p.byUser[s.UserID] = append(ids, s.SessionID)
	if first {
		p.joinedAt[s.UserID] = s.ConnectedAt
	}
	return p.view(s.UserID), first
}

// leaveSession removes one session. last is true when it was the user's final
// session, i.e. the moment the user actually left the call.
func (p *presence) leaveSession(sessionID string) (view domain.Participant, last, ok bool) {
	s, ok := p.sessions[sessionID]
	if !ok {
		return domain.Participant{}, false, false
	}
	view = p.view(s.UserID)
	delete(p.sessions, sessionID)

	ids := p.byUser[s.UserID]
	for i, id := range ids {
		if id == sessionID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(p.byUser, s.UserID)
		delete(p.joinedAt, s.UserID)
		return view, true, true
	}
	p.byUser[s.UserID] = ids
	return view, false, true
}

func (p *presence) hasSession(sessionID string) bool {
	_, ok := p.sessions[sessionID]
	return ok
}

func (p *presence) hasUser(userID string) bool {
	return len(p.byUser[userID]) > 0
}

func (p *presence) isClinician(userID string) bool {
	ids := p.byUser[userID]
	if len(ids) == 0 {
		return false
	}
	return p.sessions[ids[len(ids)-1]].Role == domain.RoleClinician
}

// view builds the per-user entry; the most recent session wins display
// metadata, the first session fixes the join time.
func (p *presence) view(userID string) domain.Participant {
	ids := p.byUser[userID]
	if len(ids) == 0 {
		return domain.Participant{UserID: userID}
	}
	latest := p.sessions[ids[len(ids)-1]]
	return domain.Participant{
		UserID:      userID,
		DisplayName: latest.DisplayName,
		Role:        latest.Role,
		JoinedAt:    p.joinedAt[userID].Unix(),
	}
}

func (p *presence) participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(p.byUser))
	for userID := range p.byUser {
		out = append(out, p.view(userID))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt == out[j].JoinedAt {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt < out[j].JoinedAt
	})
	return out
}
