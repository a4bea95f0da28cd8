package session

import (
	"time"

	"github.com/jwulff/interview/internal/conversation"
)

// NoticeKind classifies what the session reports to observers.
type NoticeKind int

const (
	NoticeConnected NoticeKind = iota + 1
	NoticeQuestion
	NoticeReplySent
	NoticeScored
	NoticeTyping
	NoticeCompleted
	NoticeProtocolError
	NoticeTransportError
	NoticeDisconnected
	NoticeReconnecting
	NoticeRejected
	NoticeResponseOverdue
)

var noticeNames = map[NoticeKind]string{
	NoticeConnected:       "connected",
	NoticeQuestion:        "question",
	NoticeReplySent:       "reply_sent",
	NoticeScored:          "scored",
	NoticeTyping:          "typing",
	NoticeCompleted:       "completed",
	NoticeProtocolError:   "protocol_error",
	NoticeTransportError:  "transport_error",
	NoticeDisconnected:    "disconnected",
	NoticeReconnecting:    "reconnecting",
	NoticeRejected:        "rejected",
	NoticeResponseOverdue: "response_overdue",
}

func (k NoticeKind) String() string {
	if s, ok := noticeNames[k]; ok {
		return s
	}
	return "unknown"
}

// Notice describes one state change or signal. Status is the session
// status after the change. Turn is set for question, reply_sent and scored.
type Notice struct {
	Kind          NoticeKind
	ApplicationID string
	Status        Status
	Message       string
	Turn          conversation.Turn
	Score         *float64
	Err           error
	Attempt       int
	Delay         time.Duration
	At            time.Time
}

// Observer receives notices. Notify runs with the session locked, so it
// must return quickly and must not call back into the Session.
type Observer interface {
	Notify(Notice)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notice)

func (f ObserverFunc) Notify(n Notice) { f(n) }

// Observers fans a notice out in order.
type Observers []Observer

func (o Observers) Notify(n Notice) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(n)
		}
	}
}
