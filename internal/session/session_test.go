package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/interview/internal/conversation"
	"github.com/jwulff/interview/internal/protocol"
	"github.com/jwulff/interview/internal/transport"
)

// fakeTransport records what the session asks of it and lets tests fire
// handler callbacks synchronously.
type fakeTransport struct {
	mu          sync.Mutex
	handlers    transport.Handlers
	connects    int
	disconnects int
	sent        []protocol.Command
	sendErr     error
	connected   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: make(chan struct{}, 16)}
}

func (f *fakeTransport) Connect(h transport.Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.connects++
	f.mu.Unlock()
	f.connected <- struct{}{}
}

func (f *fakeTransport) Send(cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) h() transport.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// noticeLog records notice kinds.
type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *noticeLog) count(kind NoticeKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := 0
	for _, n := range l.notices {
		if n.Kind == kind {
			c++
		}
	}
	return c
}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeTransport, *noticeLog) {
	t.Helper()
	ft := newFakeTransport()
	notices := &noticeLog{}
	if opts.ApplicationID == "" {
		opts.ApplicationID = "app-1"
	}
	opts.Observer = notices
	s := New(ft, opts)
	s.Start()
	t.Cleanup(s.Close)
	return s, ft, notices
}

func connected() protocol.Event {
	return protocol.Event{Type: protocol.KindConnected, Message: "Connected"}
}

func question(text, category string) protocol.Event {
	return protocol.Event{Type: protocol.KindQuestion, MessageText: text, QuestionCategory: category}
}

func scoreUpdate(score float64, explanation string) protocol.Event {
	return protocol.Event{Type: protocol.KindScoreUpdate, Score: protocol.Float64Ptr(score), Explanation: explanation}
}

func completed(global float64) protocol.Event {
	return protocol.Event{Type: protocol.KindInterviewCompleted, GlobalScore: protocol.Float64Ptr(global)}
}

func TestNewSessionIsConnecting(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	snap := s.Snapshot()
	if snap.Status != StatusConnecting {
		t.Errorf("status = %q, want connecting", snap.Status)
	}
	if ft.connectCount() != 1 {
		t.Errorf("connects = %d, want 1", ft.connectCount())
	}
	s.Start()
	if ft.connectCount() != 1 {
		t.Error("second Start should not reconnect")
	}
}

func TestOpenDoesNotDeclareReadiness(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	ft.h().OnOpen()
	if got := s.Snapshot().Status; got != StatusConnecting {
		t.Errorf("status after open = %q, want connecting", got)
	}
}

func TestHappyPath(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{})
	h := ft.h()

	h.OnMessage(connected())
	if got := s.Snapshot().Status; got != StatusConnected {
		t.Fatalf("status = %q, want connected", got)
	}

	h.OnMessage(question("Tell me about yourself", conversation.CategoryKnockout))
	snap := s.Snapshot()
	if len(snap.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(snap.Turns))
	}
	if snap.Turns[0].Sender != conversation.SenderAgent || snap.Turns[0].Text != "Tell me about yourself" {
		t.Errorf("turn = %+v", snap.Turns[0])
	}
	if snap.Turns[0].Category != conversation.CategoryKnockout {
		t.Errorf("category = %q", snap.Turns[0].Category)
	}

	turn, err := s.SubmitReply("I am a backend engineer")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if turn.Sender != conversation.SenderCandidate {
		t.Errorf("sender = %q", turn.Sender)
	}
	snap = s.Snapshot()
	if len(snap.Turns) != 2 || !snap.AwaitingAgent {
		t.Fatalf("turns = %d awaiting = %v", len(snap.Turns), snap.AwaitingAgent)
	}
	if ft.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", ft.sentCount())
	}
	cmd := ft.sent[0]
	if cmd.Type != protocol.KindCandidateMessage || cmd.ApplicationID != "app-1" || cmd.MessageText != "I am a backend engineer" {
		t.Errorf("command = %+v", cmd)
	}

	h.OnMessage(scoreUpdate(4, "Clear answer"))
	snap = s.Snapshot()
	scored := snap.Turns[1]
	if scored.Score == nil || *scored.Score != 4 || scored.ScoreExplanation != "Clear answer" {
		t.Errorf("scored turn = %+v", scored)
	}
	if snap.Turns[0].Score != nil {
		t.Error("agent turn should not be scored")
	}

	h.OnMessage(completed(82.5))
	snap = s.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", snap.Status)
	}
	if snap.FinalScore == nil || *snap.FinalScore != 82.5 {
		t.Errorf("final score = %v, want 82.5", snap.FinalScore)
	}
	if snap.AwaitingAgent {
		t.Error("awaiting should be cleared on completion")
	}
	if notices.count(NoticeCompleted) != 1 {
		t.Errorf("completed notices = %d", notices.count(NoticeCompleted))
	}
}

func TestQuestionClearsAwaiting(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(question("q1", "technical"))
	if _, err := s.SubmitReply("a1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.OnMessage(protocol.Event{Type: protocol.KindTyping})
	if !s.Snapshot().AgentTyping {
		t.Error("typing event should set AgentTyping")
	}
	h.OnMessage(question("q2", "technical"))

	snap := s.Snapshot()
	if snap.AwaitingAgent || snap.AgentTyping {
		t.Errorf("awaiting = %v typing = %v after question", snap.AwaitingAgent, snap.AgentTyping)
	}
	if _, err := s.SubmitReply("a2"); err != nil {
		t.Errorf("second reply should be accepted: %v", err)
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(completed(50))

	before := s.Snapshot()
	events := []protocol.Event{
		connected(),
		question("late", "technical"),
		scoreUpdate(1, "late"),
		completed(99),
		{Type: protocol.KindError, Message: "boom"},
		{Type: protocol.KindTyping},
		{Type: "future_kind"},
	}
	for _, ev := range events {
		h.OnMessage(ev)
		if got := s.Snapshot().Status; got != StatusCompleted {
			t.Fatalf("status after %q = %q, want completed", ev.Type, got)
		}
	}
	h.OnError(fmt.Errorf("reset"))
	h.OnClose(nil)

	after := s.Snapshot()
	if after.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", after.Status)
	}
	if len(after.Turns) != len(before.Turns) {
		t.Errorf("turns changed after completion: %d -> %d", len(before.Turns), len(after.Turns))
	}
	if *after.FinalScore != 50 {
		t.Errorf("final score changed to %v", *after.FinalScore)
	}
	if _, err := s.SubmitReply("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("submit after completion = %v, want ErrNotConnected", err)
	}
}

func TestCompletedWhileAwaiting(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(question("q", "technical"))
	s.SubmitReply("a")

	h.OnMessage(completed(70))
	snap := s.Snapshot()
	if snap.Status != StatusCompleted || snap.AwaitingAgent {
		t.Errorf("status = %q awaiting = %v", snap.Status, snap.AwaitingAgent)
	}
}

func TestScoreWithoutCandidateTurnIsNoop(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(question("q", "technical"))

	before := s.Snapshot().Turns
	h.OnMessage(scoreUpdate(3, "orphan"))
	after := s.Snapshot().Turns

	if len(after) != len(before) || after[0].Score != nil {
		t.Errorf("log changed: %+v", after)
	}
	if notices.count(NoticeScored) != 0 {
		t.Error("no scored notice expected")
	}
}

func TestDuplicateScoreEvent(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(question("q", "technical"))
	s.SubmitReply("a")

	h.OnMessage(scoreUpdate(4, "first"))
	h.OnMessage(scoreUpdate(1, "second"))

	turns := s.Snapshot().Turns
	if *turns[1].Score != 4 || turns[1].ScoreExplanation != "first" {
		t.Errorf("turn = score %v %q, want 4 first", *turns[1].Score, turns[1].ScoreExplanation)
	}
}

func TestScoreAfterNextQuestion(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(question("q1", "technical"))
	s.SubmitReply("a1")
	h.OnMessage(question("q2", "technical"))
	h.OnMessage(scoreUpdate(5, "late but valid"))

	turns := s.Snapshot().Turns
	if turns[1].Score == nil || *turns[1].Score != 5 {
		t.Errorf("a1 score = %v, want 5", turns[1].Score)
	}
	if turns[2].Score != nil {
		t.Error("q2 must not be scored")
	}
}

func TestConnectedIsIdempotent(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(connected())

	if got := s.Snapshot().Status; got != StatusConnected {
		t.Errorf("status = %q", got)
	}
	if notices.count(NoticeConnected) != 1 {
		t.Errorf("connected notices = %d, want 1", notices.count(NoticeConnected))
	}
}

func TestSubmitRejections(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{MaxReplyLength: 10})
	h := ft.h()

	if _, err := s.SubmitReply("too early"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("submit while connecting = %v", err)
	}

	h.OnMessage(connected())
	for _, blank := range []string{"", "   ", "\n\t"} {
		if _, err := s.SubmitReply(blank); !errors.Is(err, ErrEmptyReply) {
			t.Errorf("SubmitReply(%q) = %v, want ErrEmptyReply", blank, err)
		}
	}
	if _, err := s.SubmitReply("this is longer than ten"); !errors.Is(err, ErrReplyTooLong) {
		t.Errorf("long reply = %v, want ErrReplyTooLong", err)
	}
	if len(s.Snapshot().Turns) != 0 || ft.sentCount() != 0 {
		t.Fatal("rejections must not touch the log or transport")
	}

	if _, err := s.SubmitReply("first"); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if _, err := s.SubmitReply("second"); !errors.Is(err, ErrAwaitingResponse) {
		t.Errorf("second reply = %v, want ErrAwaitingResponse", err)
	}
	if len(s.Snapshot().Turns) != 1 || ft.sentCount() != 1 {
		t.Errorf("turns = %d sent = %d, want 1/1", len(s.Snapshot().Turns), ft.sentCount())
	}
	if notices.count(NoticeRejected) != 6 {
		t.Errorf("rejected notices = %d, want 6", notices.count(NoticeRejected))
	}
}

func TestSubmitTrimsText(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	ft.h().OnMessage(connected())
	turn, err := s.SubmitReply("  hello  ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if turn.Text != "hello" || ft.sent[0].MessageText != "hello" {
		t.Errorf("text = %q / %q", turn.Text, ft.sent[0].MessageText)
	}
}

func TestDisconnectAndRecover(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(question("q1", "knockout"))
	s.SubmitReply("a1")
	before := s.Snapshot().Turns

	h.OnClose(nil)
	if got := s.Snapshot().Status; got != StatusDisconnected {
		t.Fatalf("status = %q, want disconnected", got)
	}
	if _, err := s.SubmitReply("while down"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("submit while disconnected = %v", err)
	}

	// A fresh connect delivers connected again.
	ft.Connect(h)
	h.OnMessage(connected())
	snap := s.Snapshot()
	if snap.Status != StatusConnected {
		t.Errorf("status = %q, want connected", snap.Status)
	}
	if len(snap.Turns) != len(before) {
		t.Fatalf("turns = %d, want %d", len(snap.Turns), len(before))
	}
	for i := range before {
		if snap.Turns[i].ID != before[i].ID || snap.Turns[i].Text != before[i].Text {
			t.Errorf("turn %d changed: %+v -> %+v", i, before[i], snap.Turns[i])
		}
	}
	if notices.count(NoticeDisconnected) != 1 || notices.count(NoticeConnected) != 2 {
		t.Errorf("disconnected = %d connected = %d", notices.count(NoticeDisconnected), notices.count(NoticeConnected))
	}
}

func TestTransportErrorDisconnects(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{})
	ft.h().OnError(fmt.Errorf("dial refused"))

	snap := s.Snapshot()
	if snap.Status != StatusDisconnected {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.LastError == "" {
		t.Error("last error should be recorded")
	}
	if notices.count(NoticeTransportError) != 1 {
		t.Errorf("transport error notices = %d", notices.count(NoticeTransportError))
	}
}

func TestProtocolErrorKeepsState(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(protocol.Event{Type: protocol.KindError, Message: "upstream AI failed"})

	snap := s.Snapshot()
	if snap.Status != StatusConnected {
		t.Errorf("status = %q, want connected", snap.Status)
	}
	if snap.LastError != "upstream AI failed" {
		t.Errorf("last error = %q", snap.LastError)
	}
	if notices.count(NoticeProtocolError) != 1 {
		t.Errorf("protocol error notices = %d", notices.count(NoticeProtocolError))
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	h := ft.h()
	h.OnMessage(connected())
	before := s.Snapshot()
	h.OnMessage(protocol.Event{Type: "heartbeat"})
	after := s.Snapshot()
	if after.Status != before.Status || len(after.Turns) != len(before.Turns) {
		t.Error("unknown event changed state")
	}
}

func TestQuestionBeforeConnectedIgnored(t *testing.T) {
	s, ft, _ := newTestSession(t, Options{})
	ft.h().OnMessage(question("early", "knockout"))
	if n := len(s.Snapshot().Turns); n != 0 {
		t.Errorf("turns = %d, want 0", n)
	}
}

func TestSendFailureAllowsRetry(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{ResponseTimeout: time.Hour})
	ft.h().OnMessage(connected())
	ft.sendErr = transport.ErrNotOpen

	if _, err := s.SubmitReply("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Turns) != 1 {
		t.Error("accepted reply should stay in the log")
	}
	if snap.AwaitingAgent {
		t.Error("a reply that never left should not wait for the agent")
	}
	if notices.count(NoticeTransportError) != 1 {
		t.Errorf("transport error notices = %d", notices.count(NoticeTransportError))
	}

	ft.sendErr = nil
	if _, err := s.SubmitReply("hello again"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ft.sentCount() != 1 {
		t.Errorf("sent = %d, want 1", ft.sentCount())
	}
	if !s.Snapshot().AwaitingAgent {
		t.Error("delivered retry should await the agent")
	}
}

func TestReconnectWhileAwaitingAllowsReply(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{ResponseTimeout: 20 * time.Millisecond})
	h := ft.h()
	h.OnMessage(connected())
	h.OnMessage(question("q1", "knockout"))
	if _, err := s.SubmitReply("a1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.OnClose(nil)
	ft.Connect(h)
	h.OnMessage(connected())
	if s.Snapshot().AwaitingAgent {
		t.Fatal("still awaiting after the connection was re-established")
	}
	if _, err := s.SubmitReply("retry"); err != nil {
		t.Fatalf("submit after reconnect: %v", err)
	}
	if ft.sentCount() != 2 {
		t.Errorf("sent = %d, want 2", ft.sentCount())
	}

	// The overdue timer of the lost reply must not fire for the new one.
	time.Sleep(5 * time.Millisecond)
	h.OnMessage(question("q2", "knockout"))
	time.Sleep(40 * time.Millisecond)
	if n := notices.count(NoticeResponseOverdue); n != 0 {
		t.Errorf("overdue notices = %d, want 0", n)
	}
}

func TestCloseStopsMutation(t *testing.T) {
	ft := newFakeTransport()
	notices := &noticeLog{}
	s := New(ft, Options{ApplicationID: "app-1", Observer: notices})
	s.Start()
	h := ft.h()
	h.OnMessage(connected())

	s.Close()
	if ft.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", ft.disconnects)
	}
	seen := len(notices.notices)

	h.OnMessage(question("zombie", "technical"))
	h.OnClose(nil)
	h.OnError(fmt.Errorf("late"))

	snap := s.Snapshot()
	if len(snap.Turns) != 0 || snap.Status != StatusConnected {
		t.Errorf("state changed after close: %+v", snap)
	}
	if len(notices.notices) != seen {
		t.Error("notices after close")
	}
	if _, err := s.SubmitReply("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close = %v, want ErrClosed", err)
	}
	s.Close()
	if ft.disconnects != 1 {
		t.Error("second Close should be a no-op")
	}
}

func TestReconnectSchedulesConnect(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{
		Reconnect: ReconnectPolicy{
			Enabled: true,
			Backoff: transport.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2},
		},
	})
	<-ft.connected
	h := ft.h()
	h.OnMessage(connected())
	h.OnClose(nil)

	select {
	case <-ft.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not happen")
	}
	if notices.count(NoticeReconnecting) != 1 {
		t.Errorf("reconnecting notices = %d", notices.count(NoticeReconnecting))
	}
	if s.Snapshot().ReconnectAttempt != 1 {
		t.Errorf("attempt = %d, want 1", s.Snapshot().ReconnectAttempt)
	}

	ft.h().OnMessage(connected())
	if got := s.Snapshot(); got.Status != StatusConnected || got.ReconnectAttempt != 0 {
		t.Errorf("after reconnect: status %q attempt %d", got.Status, got.ReconnectAttempt)
	}
}

func TestReconnectGivesUp(t *testing.T) {
	_, ft, notices := newTestSession(t, Options{
		Reconnect: ReconnectPolicy{
			Enabled:     true,
			Backoff:     transport.Backoff{Initial: time.Millisecond, Max: time.Millisecond},
			MaxAttempts: 1,
		},
	})
	<-ft.connected
	ft.h().OnClose(nil)
	<-ft.connected
	ft.h().OnClose(nil)

	time.Sleep(20 * time.Millisecond)
	if ft.connectCount() != 2 {
		t.Errorf("connects = %d, want 2", ft.connectCount())
	}
	if notices.count(NoticeReconnecting) != 1 {
		t.Errorf("reconnecting notices = %d, want 1", notices.count(NoticeReconnecting))
	}
}

func TestResponseOverdue(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{ResponseTimeout: 10 * time.Millisecond})
	ft.h().OnMessage(connected())
	s.SubmitReply("hello")

	deadline := time.Now().Add(2 * time.Second)
	for notices.count(NoticeResponseOverdue) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if notices.count(NoticeResponseOverdue) != 1 {
		t.Fatalf("overdue notices = %d, want 1", notices.count(NoticeResponseOverdue))
	}
	if !s.Snapshot().AwaitingAgent {
		t.Error("overdue must not clear awaiting")
	}
}

func TestResponseOverdueCancelledByQuestion(t *testing.T) {
	s, ft, notices := newTestSession(t, Options{ResponseTimeout: 20 * time.Millisecond})
	h := ft.h()
	h.OnMessage(connected())
	s.SubmitReply("hello")
	h.OnMessage(question("next", "technical"))

	time.Sleep(60 * time.Millisecond)
	if notices.count(NoticeResponseOverdue) != 0 {
		t.Error("overdue fired after the agent answered")
	}
}

func TestNoticeCarriesStatus(t *testing.T) {
	_, ft, notices := newTestSession(t, Options{ApplicationID: "app-9"})
	ft.h().OnMessage(connected())

	n := notices.notices[0]
	if n.Kind != NoticeConnected || n.Status != StatusConnected || n.ApplicationID != "app-9" {
		t.Errorf("notice = %+v", n)
	}
	if n.Kind.String() != "connected" {
		t.Errorf("kind string = %q", n.Kind.String())
	}
}
