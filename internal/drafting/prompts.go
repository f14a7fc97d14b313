package drafting

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trainu/coach-inbox/internal/model"
)

const baseGuidelines = `You are TrainU's AI assistant. Your role is to draft professional, friendly, and concise messages for trainers to review and send to clients.

Key Guidelines:
- Be warm, encouraging, and respectful
- Keep messages between 60-120 words
- Use the client's first name
- Never provide medical advice or diagnoses
- Escalate sensitive topics (injury, illness, billing) by flagging them
- Include clear call-to-actions when appropriate
- Use minimal emojis (1-2 max per message)
`

var typeRules = map[model.MessageType]string{
	model.TypeBookingConfirmation: `
You're drafting a booking confirmation message. Include:
- Session date and time
- Simple confirmation options (reply C to confirm, R to reschedule)
- Encouraging tone`,

	model.TypeBookingReminder: `
You're drafting a 24-hour reminder. Include:
- Session date and time
- Quick prep tips (bring water, arrive 5 min early)
- Confirmation and reschedule options`,

	model.TypeBookingReschedule: `
You're drafting a reschedule message. Include:
- The original session time and that it needs to move
- Two or three concrete alternative options
- An easy way to pick one`,

	model.TypeNoShowRecovery: `
You're drafting a no-show recovery message. Be:
- Understanding and non-judgmental
- Offer easy rescheduling
- Ask if everything is okay
- Keep door open for next session`,

	model.TypeProgressCelebration: `
You're celebrating a client milestone or achievement. Include:
- Specific achievement (streak, goal completion, PR)
- Genuine encouragement
- Subtle motivation to keep going`,

	model.TypeWeeklyCheckin: `
You're drafting a weekly check-in message. Include:
- Quick recap of last week's sessions
- Upcoming week preview
- Encouraging note about progress`,

	model.TypeAtRiskOutreach: `
You're reaching out to an at-risk client. Be:
- Caring and non-pushy
- Acknowledge absence without guilt-tripping
- Offer help or easier scheduling options
- Keep door open`,

	model.TypeGeneralReply: `
You're drafting a reply to a client message. Be:
- Responsive and helpful
- Professional but warm
- Clear about next steps if applicable`,
}

// SystemPrompt is the base guidelines plus the rules for t.
func SystemPrompt(t model.MessageType) string {
	return baseGuidelines + "\n" + typeRules[t]
}

// Context is the situational input for one draft.
type Context struct {
	ClientName      string `json:"clientName,omitempty"`
	TrainerName     string `json:"trainerName,omitempty"`
	AppointmentTime string `json:"appointmentTime,omitempty"`
	GoalProgress    any    `json:"goalProgress,omitempty"`
	RecentActivity  any    `json:"recentActivity,omitempty"`
	CustomContext   string `json:"customContext,omitempty"`
}

// UserPrompt lists the context fields followed by the Subject:/Body: format instruction.
func UserPrompt(t model.MessageType, c Context) string {
	client := c.ClientName
	if client == "" {
		client = "Client"
	}
	trainer := c.TrainerName
	if trainer == "" {
		trainer = "Your trainer"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Draft a %s message.\n\n", strings.ReplaceAll(string(t), "_", " "))
	fmt.Fprintf(&b, "Client: %s\n", client)
	fmt.Fprintf(&b, "Trainer: %s\n", trainer)

	if c.AppointmentTime != "" {
		fmt.Fprintf(&b, "Appointment Time: %s\n", c.AppointmentTime)
	}
	if c.GoalProgress != nil {
		fmt.Fprintf(&b, "Goal Progress: %s\n", compactJSON(c.GoalProgress))
	}
	if c.RecentActivity != nil {
		fmt.Fprintf(&b, "Recent Activity: %s\n", compactJSON(c.RecentActivity))
	}
	if c.CustomContext != "" {
		fmt.Fprintf(&b, "Additional Context: %s\n", c.CustomContext)
	}

	b.WriteString("\nGenerate the message in this format:\nSubject: [subject line]\nBody: [message body]")
	return b.String()
}

func compactJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
