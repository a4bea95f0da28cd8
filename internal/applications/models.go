package applications

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jwulff/interview/internal/protocol"
)

// Status is the hiring pipeline stage of an application.
type Status string

const (
	StatusPending             Status = "pending"
	StatusInterviewInProgress Status = "interview_in_progress"
	StatusEvaluationCompleted Status = "evaluation_completed"
	StatusHired               Status = "hired"
	StatusRejected            Status = "rejected"
)

var statusLabels = map[Status]string{
	StatusPending:             "Pending",
	StatusInterviewInProgress: "Interview in progress",
	StatusEvaluationCompleted: "Evaluation completed",
	StatusHired:               "Hired",
	StatusRejected:            "Not selected",
}

// Label is the human-facing name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Interviewable reports whether a live interview may still run.
func (s Status) Interviewable() bool {
	return s == StatusPending || s == StatusInterviewInProgress
}

// Time decodes the backend's zoneless ISO-8601 timestamps.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, ok := protocol.ParseTime(s)
	if !ok {
		return fmt.Errorf("timestamp: cannot parse %q", s)
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(protocol.FormatTime(t.Time))
}

// Application is the detail returned by GET /applications/{id}.
type Application struct {
	ID                       string   `json:"id"`
	CandidateID              string   `json:"candidate_id,omitempty"`
	CandidateName            string   `json:"candidate_name,omitempty"`
	CandidateEmail           string   `json:"candidate_email,omitempty"`
	JobPostingID             string   `json:"job_posting_id"`
	JobTitle                 string   `json:"job_title"`
	CompanyName              string   `json:"company_name,omitempty"`
	Status                   Status   `json:"status"`
	CVScore                  *float64 `json:"cv_score,omitempty"`
	TechnicalScore           *float64 `json:"technical_score,omitempty"`
	SoftSkillsScore          *float64 `json:"soft_skills_score,omitempty"`
	GlobalScore              *float64 `json:"global_score,omitempty"`
	InterviewStartedAt       *Time    `json:"interview_started_at,omitempty"`
	InterviewCompletedAt     *Time    `json:"interview_completed_at,omitempty"`
	InterviewDurationMinutes *int     `json:"interview_duration_minutes,omitempty"`
	HiringDecision           string   `json:"hiring_decision,omitempty"`
	CreatedAt                Time     `json:"created_at"`
}

// Message is one stored interview message.
type Message struct {
	Order            int      `json:"order"`
	Sender           string   `json:"sender"`
	Timestamp        Time     `json:"timestamp"`
	MessageText      string   `json:"message_text"`
	QuestionCategory string   `json:"question_category,omitempty"`
	AgentScore       *float64 `json:"agent_score,omitempty"`
	ScoreExplanation string   `json:"agent_scoring_explanation,omitempty"`
}

// Transcript is the body of GET /applications/{id}/transcript.
type Transcript struct {
	ApplicationID string    `json:"application_id"`
	Messages      []Message `json:"messages"`
}

// ErrorResponse represents an API error (RFC 7807).
type ErrorResponse struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

// Is maps HTTP statuses onto the package sentinels.
func (e *ErrorResponse) Is(target error) bool {
	switch {
	case target == ErrApplicationNotFound:
		return e.Status == http.StatusNotFound
	case target == ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}
