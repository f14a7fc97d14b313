// Package drafting turns a message type and situational context into an AI-written draft.
package drafting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/llm"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/screener"
	"go.uber.org/zap"
)

var (
	ErrGeneration  = errors.New("draft generation failed")
	ErrUnknownType = errors.New("unknown message type")
)

type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Completion, error)
}

type Request struct {
	Type      model.MessageType
	TrainerID string
	Context   Context
	// AutoApprove asks to skip review; honored only for auto-approvable types
	// and never when the body trips the screener.
	AutoApprove bool
}

type Draft struct {
	Subject                string
	Body                   string
	RequiresApproval       bool
	SensitiveTopicDetected bool
	Metadata               model.Metadata
}

var autoApprovable = map[model.MessageType]bool{
	model.TypeBookingConfirmation: true,
	model.TypeProgressCelebration: true,
	model.TypeWeeklyDigest:        true,
}

// AutoApprovable reports whether t may bypass human review.
func AutoApprovable(t model.MessageType) bool { return autoApprovable[t] }

// RequiresApproval is the review policy for a new draft.
func RequiresApproval(t model.MessageType, autoApprove, sensitive bool) bool {
	if sensitive {
		return true
	}
	return !(autoApprove && autoApprovable[t])
}

type Generator struct {
	llm      Completer
	screener *screener.Screener
	events   *events.Emitter
	tracker  errtrack.Reporter
	log      *zap.Logger
	now      func() time.Time
}

func NewGenerator(c Completer, s *screener.Screener, em *events.Emitter, tracker errtrack.Reporter, log *zap.Logger) *Generator {
	return &Generator{
		llm:      c,
		screener: s,
		events:   em,
		tracker:  tracker,
		log:      log,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Draft calls the model and applies the screener and review policy.
// Provider failures come back wrapped in ErrGeneration; nothing is fabricated.
func (g *Generator) Draft(ctx context.Context, req Request) (Draft, error) {
	if !req.Type.Valid() {
		return Draft{}, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}

	out, err := g.llm.Complete(ctx, llm.Request{
		System: SystemPrompt(req.Type),
		User:   UserPrompt(req.Type, req.Context),
	})
	if err != nil {
		metrics.DraftsTotal.WithLabelValues(req.Type.String(), "error").Inc()
		g.tracker.Report(ctx, err, errtrack.SEV2, errtrack.CategoryLLMGeneration, map[string]string{
			"message_type": req.Type.String(),
			"trainer_id":   req.TrainerID,
		})
		return Draft{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	subject, body := ParseResponse(out.Text)
	sensitive := g.screener.Screen(body)

	d := Draft{
		Subject:                subject,
		Body:                   body,
		RequiresApproval:       RequiresApproval(req.Type, req.AutoApprove, sensitive),
		SensitiveTopicDetected: sensitive,
		Metadata: model.Metadata{
			MessageType:            req.Type,
			SensitiveTopicDetected: sensitive,
			Usage: &model.ModelUsage{
				Model:       out.Model,
				TotalTokens: out.TotalTokens,
				GeneratedAt: g.now().UTC(),
			},
		},
	}

	metrics.DraftsTotal.WithLabelValues(req.Type.String(), "ok").Inc()
	g.events.Emit(ctx, model.EventMessageDrafted, req.TrainerID, "", map[string]string{
		"message_type": req.Type.String(),
	})

	g.log.Debug("draft generated",
		zap.String("type", req.Type.String()),
		zap.String("trainer_id", req.TrainerID),
		zap.Bool("sensitive", sensitive),
		zap.Int("tokens", out.TotalTokens),
	)
	return d, nil
}
