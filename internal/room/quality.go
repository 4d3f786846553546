package room

import (
	"sort"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// qualityAggregator keeps the latest sample per participant and derives the
// room classification as the worst individual rating: one struggling
// participant degrades the call for everyone. Only touched from the room loop.
type qualityAggregator struct {
	samples map[string]domain.QualitySample
	current domain.Rating
}

func newQualityAggregator() *qualityAggregator {
	return &qualityAggregator{
		samples: make(map[string]domain.QualitySample),
		current: domain.RatingExcellent,
	}
}

func (q *qualityAggregator) classify() domain.Rating {
	rating := domain.RatingExcellent
	for _, s := range q.samples {
		if w := s.Worst(); w.Worse(rating) {
			rating = w
		}
	}
	return rating
}

// report overwrites the participant's sample. changed is true when the room
// classification moved, which is the only case worth broadcasting.
func (q *qualityAggregator) report(s domain.QualitySample) (domain.Rating, bool) {
	q.samples[s.UserID] = s
	return q.reclassify()
}

// drop forgets a participant's sample, typically when their last session
// leaves the room.
func (q *qualityAggregator) drop(userID string) (domain.Rating, bool) {
	if _, ok := q.samples[userID]; !ok {
		return q.current, false
	}
	delete(q.samples, userID)
	return q.reclassify()
}

func (q *qualityAggregator) reclassify() (domain.Rating, bool) {
	next := q.classify()
	if next == q.current {
		return q.current, false
	}
	q.current = next
	return next, true
}

func (q *qualityAggregator) rating() domain.Rating { return q.current }

func (q *qualityAggregator) snapshot() []domain.QualitySample {
	out := make([]domain.QualitySample, 0, len(q.samples))
	for _, s := range q.samples {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
