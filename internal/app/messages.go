package app

import (
	"github.com/jwulff/interview/internal/conversation"
	"github.com/jwulff/interview/internal/session"
)

// NoticesMsg carries the notices published since the last delivery, oldest
// first.
type NoticesMsg struct {
	Notices []session.Notice
}

// NoticesClosedMsg is sent when the notifier has been closed.
type NoticesClosedMsg struct{}

// ReplyResultMsg carries the outcome of SubmitReply.
type ReplyResultMsg struct {
	Text string
	Turn conversation.Turn
	Err  error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// TickMsg refreshes the elapsed-time clock.
type TickMsg struct{}
