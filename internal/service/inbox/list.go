package inbox

import (
	"context"
	"sort"

	"github.com/trainu/coach-inbox/internal/model"
)

type SortOrder string

const (
	SortPriority SortOrder = "priority"
	SortNewest   SortOrder = "newest"
)

const DefaultListLimit = 50

type ListInput struct {
	TrainerID string
	Status    model.Status
	Limit     int
	Sort      SortOrder
}

var statusRank = map[model.Status]int{
	model.StatusNeedsReview: 0,
	model.StatusFailed:      1,
	model.StatusDraft:       2,
	model.StatusSnoozed:     3,
	model.StatusQueued:      4,
}

func rank(s model.Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}

// SortByPriority orders by review urgency, then impact score, then newest first.
func SortByPriority(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if ra, rb := rank(a.Status), rank(b.Status); ra != rb {
			return ra < rb
		}
		if a.ImpactScore != b.ImpactScore {
			return a.ImpactScore > b.ImpactScore
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// ListInbox returns the trainer's newest messages, priority-sorted unless
// SortNewest is asked for.
func (s *Service) ListInbox(ctx context.Context, in ListInput) ([]model.Message, error) {
	if in.Status != "" && !in.Status.Valid() {
		return nil, invalid("status", "unknown status "+in.Status.String())
	}
	if in.Limit <= 0 {
		in.Limit = DefaultListLimit
	}
	msgs, err := s.store.Messages.ListBySender(ctx, in.TrainerID, in.Status, in.Limit)
	if err != nil {
		return nil, err
	}
	if in.Sort != SortNewest {
		SortByPriority(msgs)
	}
	return msgs, nil
}

func (s *Service) Get(ctx context.Context, messageID, trainerID string) (*model.Message, error) {
	return s.owned(ctx, messageID, trainerID)
}

func (s *Service) ListAudit(ctx context.Context, messageID, trainerID string) ([]model.MessageAudit, error) {
	if _, err := s.owned(ctx, messageID, trainerID); err != nil {
		return nil, err
	}
	return s.store.Messages.ListAudit(ctx, messageID)
}
