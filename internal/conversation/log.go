// Package conversation holds the ordered turns of one interview.
package conversation

import "time"

// Sender identifies who authored a turn.
type Sender string

const (
	SenderAgent     Sender = "agent"
	SenderCandidate Sender = "candidate"
)

// Question categories sent by the interviewer. The backend may send others
// (greeting, closing); they are kept verbatim.
const (
	CategoryKnockout   = "knockout"
	CategoryTechnical  = "technical"
	CategorySoftSkills = "soft_skills"
)

// Turn is one message in the conversation.
type Turn struct {
	ID               int64
	Sender           Sender
	Text             string
	CreatedAt        time.Time
	Category         string
	Score            *float64
	ScoreExplanation string
}

// Scored reports whether a score has been attached.
func (t Turn) Scored() bool { return t.Score != nil }

// Log is an append-only sequence of turns. Insertion order is
// conversational order. It is not safe for concurrent use; the owning
// session serializes access.
type Log struct {
	turns  []Turn
	nextID int64
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append assigns the next id to turn, stores it at the end and returns its
// index.
func (l *Log) Append(turn Turn) int {
	l.nextID++
	turn.ID = l.nextID
	if turn.Score != nil {
		s := *turn.Score
		turn.Score = &s
	}
	l.turns = append(l.turns, turn)
	return len(l.turns) - 1
}

// AttachScore sets score and explanation on the latest candidate turn that
// has no score yet. It returns the updated turn, or false when no such turn
// exists, in which case the log is unchanged.
func (l *Log) AttachScore(score float64, explanation string) (Turn, bool) {
	for i := len(l.turns) - 1; i >= 0; i-- {
		t := &l.turns[i]
		if t.Sender != SenderCandidate || t.Scored() {
			continue
		}
		s := score
		t.Score = &s
		t.ScoreExplanation = explanation
		return copyTurn(*t), true
	}
	return Turn{}, false
}

// All returns a copy of the turns in order.
func (l *Log) All() []Turn {
	out := make([]Turn, len(l.turns))
	for i, t := range l.turns {
		out[i] = copyTurn(t)
	}
	return out
}

// At returns a copy of the turn at index i.
func (l *Log) At(i int) Turn {
	return copyTurn(l.turns[i])
}

// Len returns the number of turns.
func (l *Log) Len() int { return len(l.turns) }

func copyTurn(t Turn) Turn {
	if t.Score != nil {
		s := *t.Score
		t.Score = &s
	}
	return t
}
