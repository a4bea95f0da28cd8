// Package archive provides SQLite storage for interview transcripts.
package archive

import "time"

// Interview statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Interview represents one live interview attempt for an application.
type Interview struct {
	ID            string
	ApplicationID string
	JobTitle      string
	CompanyName   string
	Status        string
	FinalScore    *float64
	StartedAt     time.Time
	EndedAt       *time.Time
	CreatedAt     time.Time
}
