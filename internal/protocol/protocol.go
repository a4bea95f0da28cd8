// Package protocol provides the wire types exchanged with the interview
// backend over the websocket: one JSON object per frame, discriminated by
// its "type" field.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates inbound events and outbound commands.
type Kind string

// Inbound event kinds.
const (
	KindConnected          Kind = "connected"
	KindQuestion           Kind = "question"
	KindScoreUpdate        Kind = "score_update"
	KindInterviewCompleted Kind = "interview_completed"
	KindError              Kind = "error"
	KindTyping             Kind = "typing"
)

// Outbound command kinds.
const (
	KindCandidateMessage Kind = "candidate_message"
)

// Event is streamed from the backend to the candidate client.
type Event struct {
	Type             Kind     `json:"type"`
	Message          string   `json:"message,omitempty"`
	ApplicationID    string   `json:"application_id,omitempty"`
	Sender           string   `json:"sender,omitempty"`
	MessageText      string   `json:"message_text,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	QuestionCategory string   `json:"question_category,omitempty"`
	Score            *float64 `json:"score,omitempty"`
	Explanation      string   `json:"explanation,omitempty"`
	GlobalScore      *float64 `json:"global_score,omitempty"`
	RedirectTo       string   `json:"redirect_to,omitempty"`
}

// Command is sent from the candidate client to the backend.
type Command struct {
	Type          Kind   `json:"type"`
	ApplicationID string `json:"application_id"`
	MessageText   string `json:"message_text"`
}

// CandidateMessage builds the command carrying one candidate reply.
func CandidateMessage(applicationID, text string) Command {
	return Command{
		Type:          KindCandidateMessage,
		ApplicationID: applicationID,
		MessageText:   text,
	}
}

// Known reports whether the event kind is one this client understands.
func (e Event) Known() bool {
	switch e.Type {
	case KindConnected, KindQuestion, KindScoreUpdate,
		KindInterviewCompleted, KindError, KindTyping:
		return true
	}
	return false
}

// Time parses the event timestamp. ok is false when absent or invalid.
func (e Event) Time() (t time.Time, ok bool) {
	return ParseTime(e.Timestamp)
}

// backendLayout is ISO-8601 without a zone, as the backend emits it (UTC).
const backendLayout = "2006-01-02T15:04:05.999999"

// ParseTime accepts the backend's zoneless ISO-8601 and RFC 3339.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t the way the backend does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(backendLayout)
}

// DecodeEvent parses one frame. Unknown kinds decode without error; the
// caller decides whether to ignore them.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("event without type")
	}
	return ev, nil
}

// Float64Ptr returns a pointer to v. Convenience for building events.
func Float64Ptr(v float64) *float64 { return &v }
