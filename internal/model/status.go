package model

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusDraft       Status = "draft"
	StatusNeedsReview Status = "needs_review"
	StatusQueued      Status = "queued"
	StatusSent        Status = "sent"
	StatusFailed      Status = "failed"
	StatusSnoozed     Status = "snoozed"
	StatusDismissed   Status = "dismissed"
	StatusRejected    Status = "rejected"
)

var allStatuses = []Status{
	StatusDraft, StatusNeedsReview, StatusQueued, StatusSent,
	StatusFailed, StatusSnoozed, StatusDismissed, StatusRejected,
}

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no review action may touch the message any more.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusRejected, StatusDismissed:
		return true
	}
	return false
}

// Action is a lifecycle event applied to a message.
type Action string

const (
	ActionCreate    Action = "create"
	ActionQueue     Action = "queue"
	ActionEdit      Action = "edit"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionSnooze    Action = "snooze"
	ActionWake      Action = "wake"
	ActionDismiss   Action = "dismiss"
	ActionDeliver   Action = "deliver"
	ActionFail      Action = "fail"
	ActionRedeliver Action = "redeliver"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// TransitionError carries the rejected edge.
type TransitionError struct {
	From   Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a message in status %q", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

type edge struct {
	from   Status
	action Action
}

// transitions is the single source of truth for the message lifecycle.
var transitions = map[edge]Status{
	{StatusDraft, ActionQueue}:   StatusQueued,
	{StatusDraft, ActionEdit}:    StatusDraft,
	{StatusDraft, ActionApprove}: StatusQueued,
	{StatusDraft, ActionSnooze}:  StatusSnoozed,
	{StatusDraft, ActionDismiss}: StatusDismissed,

	{StatusNeedsReview, ActionEdit}:    StatusNeedsReview,
	{StatusNeedsReview, ActionApprove}: StatusQueued,
	{StatusNeedsReview, ActionReject}:  StatusRejected,
	{StatusNeedsReview, ActionSnooze}:  StatusSnoozed,
	{StatusNeedsReview, ActionDismiss}: StatusDismissed,

	{StatusSnoozed, ActionEdit}:    StatusSnoozed,
	{StatusSnoozed, ActionSnooze}:  StatusSnoozed,
	{StatusSnoozed, ActionWake}:    StatusNeedsReview,
	{StatusSnoozed, ActionDismiss}: StatusDismissed,

	{StatusQueued, ActionDeliver}: StatusSent,
	{StatusQueued, ActionFail}:    StatusFailed,

	// delivery retry policy; failed stays terminal for review actions
	{StatusFailed, ActionRedeliver}: StatusSent,
}

// InitialStatus is the status a freshly created message starts in.
func InitialStatus(requiresApproval bool) Status {
	if requiresApproval {
		return StatusNeedsReview
	}
	return StatusDraft
}

// Next returns the status reached by applying a to s, or a *TransitionError.
func (s Status) Next(a Action) (Status, error) {
	to, ok := transitions[edge{s, a}]
	if !ok {
		return s, &TransitionError{From: s, Action: a}
	}
	return to, nil
}

// Apply moves m along the lifecycle graph.
func (m *Message) Apply(a Action) error {
	to, err := m.Status.Next(a)
	if err != nil {
		return err
	}
	m.Status = to
	return nil
}
