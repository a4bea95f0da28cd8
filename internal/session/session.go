// Package session drives one candidate's live interview: it consumes
// transport events and local replies, owns the conversation log and the
// connection status, and publishes notices to observers.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/conversation"
	"github.com/jwulff/interview/internal/protocol"
	"github.com/jwulff/interview/internal/transport"
)

// Status is the connection status of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusCompleted    Status = "completed"
)

// DefaultMaxReplyLength matches the reply box of the candidate portal.
const DefaultMaxReplyLength = 500

// Reply rejections.
var (
	ErrNotConnected     = errors.New("not connected to the interview")
	ErrAwaitingResponse = errors.New("waiting for the interviewer to respond")
	ErrEmptyReply       = errors.New("reply is empty")
	ErrReplyTooLong     = errors.New("reply is too long")
	ErrClosed           = errors.New("session closed")
)

// Transport is the channel a session drives. *transport.Client satisfies it.
type Transport interface {
	Connect(h transport.Handlers)
	Send(cmd protocol.Command) error
	Disconnect()
}

// ReconnectPolicy controls automatic reconnection after the transport
// closes. MaxAttempts 0 means no limit.
type ReconnectPolicy struct {
	Enabled     bool
	Backoff     transport.Backoff
	MaxAttempts int
}

// Options configures a Session.
type Options struct {
	ApplicationID string
	Logger        *zap.Logger
	Observer      Observer

	// MaxReplyLength limits replies in runes. 0 uses DefaultMaxReplyLength;
	// a negative value disables the limit.
	MaxReplyLength int

	// ResponseTimeout, when positive, raises NoticeResponseOverdue if no
	// agent turn follows a reply in time. The session state is unchanged.
	ResponseTimeout time.Duration

	Reconnect ReconnectPolicy

	// Now defaults to time.Now.
	Now func() time.Time
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	ApplicationID     string
	Status            Status
	Turns             []conversation.Turn
	AwaitingAgent     bool
	AgentTyping       bool
	FinalScore        *float64
	CompletionMessage string
	RedirectTo        string
	ReconnectAttempt  int
	LastError         string
}

// Session is the single authority over one interview's state.
type Session struct {
	appID     string
	transport Transport
	observer  Observer
	log       *zap.Logger
	now       func() time.Time
	maxReply  int
	timeout   time.Duration
	reconnect ReconnectPolicy

	// connMu serializes Connect and Disconnect on the transport.
	connMu sync.Mutex

	mu                sync.Mutex
	started           bool
	closed            bool
	status            Status
	turns             *conversation.Log
	awaiting          bool
	typing            bool
	pendingTurn       int64
	finalScore        *float64
	completionMessage string
	redirectTo        string
	lastError         string
	attempt           int
	reconnectTimer    *time.Timer
	overdueTimer      *time.Timer
}

// New builds a session in the connecting state. Call Start to connect.
func New(t Transport, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxReply := opts.MaxReplyLength
	if maxReply == 0 {
		maxReply = DefaultMaxReplyLength
	}

	return &Session{
		appID:     opts.ApplicationID,
		transport: t,
		observer:  opts.Observer,
		log:       log.With(zap.String("application_id", opts.ApplicationID)),
		now:       now,
		maxReply:  maxReply,
		timeout:   opts.ResponseTimeout,
		reconnect: opts.Reconnect,
		status:    StatusConnecting,
		turns:     conversation.NewLog(),
	}
}

// Start opens the transport. Calling it again, or after Close, does nothing.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.connect()
}

// Close tears the session down. No state changes and no notices happen
// after it returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopReconnectLocked()
	s.stopOverdueLocked()
	s.mu.Unlock()

	s.connMu.Lock()
	s.transport.Disconnect()
	s.connMu.Unlock()
	s.log.Debug("Session closed")
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ApplicationID:     s.appID,
		Status:            s.status,
		Turns:             s.turns.All(),
		AwaitingAgent:     s.awaiting,
		AgentTyping:       s.typing,
		CompletionMessage: s.completionMessage,
		RedirectTo:        s.redirectTo,
		ReconnectAttempt:  s.attempt,
		LastError:         s.lastError,
	}
	if s.finalScore != nil {
		v := *s.finalScore
		snap.FinalScore = &v
	}
	return snap
}

// SubmitReply commits a candidate turn and sends it. It is rejected, with
// the log and transport untouched, unless the session is connected and not
// already waiting for the interviewer.
func (s *Session) SubmitReply(text string) (conversation.Turn, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return conversation.Turn{}, ErrClosed
	}

	var reject error
	switch {
	case s.status != StatusConnected:
		reject = ErrNotConnected
	case s.awaiting:
		reject = ErrAwaitingResponse
	case text == "":
		reject = ErrEmptyReply
	case s.maxReply > 0 && utf8.RuneCountInString(text) > s.maxReply:
		reject = ErrReplyTooLong
	}
	if reject != nil {
		s.log.Debug("Reply rejected", zap.Error(reject), zap.String("status", string(s.status)))
		s.notify(Notice{Kind: NoticeRejected, Message: reject.Error(), Err: reject})
		return conversation.Turn{}, reject
	}

	idx := s.turns.Append(conversation.Turn{
		Sender:    conversation.SenderCandidate,
		Text:      text,
		CreatedAt: s.now(),
	})
	turn := s.turns.At(idx)
	s.awaiting = true
	s.pendingTurn = turn.ID
	s.startOverdueLocked(turn.ID)
	s.notify(Notice{Kind: NoticeReplySent, Turn: turn})

	if err := s.transport.Send(protocol.CandidateMessage(s.appID, text)); err != nil {
		// The backend never saw the reply, so the candidate may send again.
		s.log.Warn("Failed to send reply", zap.Error(err), zap.Int64("turn_id", turn.ID))
		s.clearAwaitingLocked()
		s.lastError = err.Error()
		s.notify(Notice{Kind: NoticeTransportError, Message: err.Error(), Err: err})
	}
	return turn, nil
}

func (s *Session) connect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.transport.Connect(transport.Handlers{
		OnMessage: s.handleEvent,
		OnError:   s.handleError,
		OnOpen:    s.handleOpen,
		OnClose:   s.handleClose,
	})
}

func (s *Session) handleOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Readiness is declared by the server's connected event, not the socket.
	s.log.Debug("Transport open, waiting for server acknowledgement")
}

func (s *Session) handleEvent(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.status == StatusCompleted {
		s.log.Debug("Ignoring event after completion", zap.String("type", string(ev.Type)))
		return
	}

	switch ev.Type {
	case protocol.KindConnected:
		s.attempt = 0
		s.stopReconnectLocked()
		if s.status == StatusConnected {
			return
		}
		if s.status == StatusDisconnected && s.awaiting {
			// A resumed interview is not re-asked; the reply may have been lost.
			s.log.Info("Reconnected while awaiting a response, accepting replies again",
				zap.Int64("turn_id", s.pendingTurn))
			s.clearAwaitingLocked()
		}
		s.status = StatusConnected
		s.lastError = ""
		s.log.Info("Interview connected")
		s.notify(Notice{Kind: NoticeConnected, Message: ev.Message})

	case protocol.KindQuestion:
		if !s.readyFor(ev) {
			return
		}
		if strings.TrimSpace(ev.MessageText) == "" {
			s.log.Warn("Dropping empty question")
			return
		}
		created, ok := ev.Time()
		if !ok {
			created = s.now()
		}
		idx := s.turns.Append(conversation.Turn{
			Sender:    conversation.SenderAgent,
			Text:      ev.MessageText,
			CreatedAt: created,
			Category:  ev.QuestionCategory,
		})
		s.awaiting = false
		s.typing = false
		s.stopOverdueLocked()
		s.notify(Notice{Kind: NoticeQuestion, Turn: s.turns.At(idx)})

	case protocol.KindScoreUpdate:
		if !s.readyFor(ev) {
			return
		}
		if ev.Score == nil {
			s.log.Debug("Dropping score update without score")
			return
		}
		turn, ok := s.turns.AttachScore(*ev.Score, ev.Explanation)
		if !ok {
			s.log.Debug("Dropping score update with no ungraded reply", zap.Float64("score", *ev.Score))
			return
		}
		s.notify(Notice{Kind: NoticeScored, Turn: turn, Score: turn.Score, Message: ev.Explanation})

	case protocol.KindTyping:
		if !s.readyFor(ev) {
			return
		}
		s.typing = true
		s.notify(Notice{Kind: NoticeTyping, Message: ev.Message})

	case protocol.KindInterviewCompleted:
		if !s.readyFor(ev) {
			return
		}
		s.status = StatusCompleted
		if ev.GlobalScore != nil {
			v := *ev.GlobalScore
			s.finalScore = &v
		}
		s.awaiting = false
		s.typing = false
		s.completionMessage = ev.Message
		s.redirectTo = ev.RedirectTo
		s.stopOverdueLocked()
		s.stopReconnectLocked()
		s.log.Info("Interview completed", zap.Any("global_score", ev.GlobalScore))
		s.notify(Notice{Kind: NoticeCompleted, Message: ev.Message, Score: s.finalScore})

	case protocol.KindError:
		s.lastError = ev.Message
		s.log.Warn("Interview backend reported an error", zap.String("message", ev.Message))
		s.notify(Notice{Kind: NoticeProtocolError, Message: ev.Message})

	default:
		s.log.Debug("Ignoring unknown event", zap.String("type", string(ev.Type)))
	}
}

// readyFor reports whether conversation events are accepted in the current
// status.
func (s *Session) readyFor(ev protocol.Event) bool {
	if s.status == StatusConnected {
		return true
	}
	s.log.Debug("Ignoring event while not connected",
		zap.String("type", string(ev.Type)), zap.String("status", string(s.status)))
	return false
}

func (s *Session) handleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.status == StatusCompleted {
		return
	}
	s.status = StatusDisconnected
	s.typing = false
	s.lastError = err.Error()
	s.notify(Notice{Kind: NoticeTransportError, Message: err.Error(), Err: err})
}

func (s *Session) handleClose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.status == StatusCompleted {
		return
	}
	s.status = StatusDisconnected
	s.typing = false
	n := Notice{Kind: NoticeDisconnected, Err: err}
	if err != nil {
		n.Message = err.Error()
	}
	s.notify(n)
	s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	if !s.reconnect.Enabled || s.reconnectTimer != nil {
		return
	}
	if s.reconnect.MaxAttempts > 0 && s.attempt >= s.reconnect.MaxAttempts {
		s.log.Warn("Giving up on reconnecting", zap.Int("attempts", s.attempt))
		return
	}
	s.attempt++
	delay := s.reconnect.Backoff.Delay(s.attempt)
	s.log.Info("Scheduling reconnect", zap.Int("attempt", s.attempt), zap.Duration("delay", delay))
	s.notify(Notice{Kind: NoticeReconnecting, Attempt: s.attempt, Delay: delay})

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		skip := s.closed || s.status == StatusCompleted || s.status == StatusConnected
		s.mu.Unlock()
		if !skip {
			s.connect()
		}
	})
}

func (s *Session) stopReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) startOverdueLocked(turnID int64) {
	s.stopOverdueLocked()
	if s.timeout <= 0 {
		return
	}
	timeout := s.timeout
	s.overdueTimer = time.AfterFunc(timeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || !s.awaiting || s.pendingTurn != turnID {
			return
		}
		s.log.Warn("Interviewer response overdue", zap.Duration("timeout", timeout))
		s.notify(Notice{Kind: NoticeResponseOverdue, Delay: timeout})
	})
}

func (s *Session) clearAwaitingLocked() {
	s.awaiting = false
	s.pendingTurn = 0
	s.stopOverdueLocked()
}

func (s *Session) stopOverdueLocked() {
	if s.overdueTimer != nil {
		s.overdueTimer.Stop()
		s.overdueTimer = nil
	}
}

func (s *Session) notify(n Notice) {
	if s.observer == nil {
		return
	}
	n.ApplicationID = s.appID
	n.Status = s.status
	n.At = s.now()
	s.observer.Notify(n)
}
