package app

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/applications"
	"github.com/jwulff/interview/internal/conversation"
	"github.com/jwulff/interview/internal/session"
	"github.com/jwulff/interview/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// Session is the part of *session.Session the TUI drives.
type Session interface {
	Snapshot() session.Snapshot
	SubmitReply(text string) (conversation.Turn, error)
}

// Notifier forwards session notices to the program. Notify never blocks:
// notices queue up and a single pending wakeup tells the model to drain
// them, so bursts are delivered as one batch instead of being lost.
type Notifier struct {
	mu      sync.Mutex
	pending []session.Notice
	closed  bool
	wake    chan struct{}
	log     *zap.Logger
}

func NewNotifier(log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{wake: make(chan struct{}, 1), log: log}
}

func (n *Notifier) Notify(notice session.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.log.Debug("TUI notice after close", zap.Stringer("kind", notice.Kind))
		return
	}
	n.pending = append(n.pending, notice)
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Next blocks until notices are pending and returns all of them in order.
// ok is false once the notifier is closed and drained.
func (n *Notifier) Next() (batch []session.Notice, ok bool) {
	<-n.wake
	n.mu.Lock()
	defer n.mu.Unlock()
	batch, n.pending = n.pending, nil
	if len(batch) == 0 && n.closed {
		return nil, false
	}
	return batch, true
}

// Close wakes the reader for the last time. Call it only after the session
// has been closed.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.wake)
	}
}

// Options configures the model.
type Options struct {
	Application    *applications.Application
	MaxReplyLength int
	Now            func() time.Time
}

// Model is the root bubbletea model for the interview TUI.
type Model struct {
	sess    Session
	notices *Notifier
	now     func() time.Time

	// Application
	applicationID string
	jobTitle      string
	companyName   string
	appStatus     applications.Status
	startedAt     time.Time
	completedAt   time.Time

	// Session state, refreshed on every notice
	snap session.Snapshot

	// Input
	input      []rune
	maxReply   int
	submitting bool

	// UI state
	width            int
	height           int
	transcriptScroll int
	transcriptLive   bool

	// Errors
	errorMessage   string
	errorTransient bool

	// Status
	statusText string
}

// New creates a model bound to a running session.
func New(sess Session, notices *Notifier, opts Options) Model {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxReply := opts.MaxReplyLength
	if maxReply == 0 {
		maxReply = session.DefaultMaxReplyLength
	}

	m := Model{
		sess:           sess,
		notices:        notices,
		now:            now,
		maxReply:       maxReply,
		startedAt:      now(),
		transcriptLive: true,
		statusText:     "Connecting to the interview...",
	}
	if sess != nil {
		m.snap = sess.Snapshot()
		m.applicationID = m.snap.ApplicationID
	}
	if a := opts.Application; a != nil {
		m.applicationID = a.ID
		m.jobTitle = a.JobTitle
		m.companyName = a.CompanyName
		m.appStatus = a.Status
		if a.InterviewStartedAt != nil && !a.InterviewStartedAt.IsZero() && a.InterviewStartedAt.Before(m.startedAt) {
			m.startedAt = a.InterviewStartedAt.Time
		}
	}
	return m
}

// Init starts listening for notices and the clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForNoticeCmd(m.notices), tickCmd())
}

// waitForNoticeCmd blocks until the session publishes more notices.
func waitForNoticeCmd(n *Notifier) tea.Cmd {
	if n == nil {
		return nil
	}
	return func() tea.Msg {
		batch, ok := n.Next()
		if !ok {
			return NoticesClosedMsg{}
		}
		return NoticesMsg{Notices: batch}
	}
}

// submitCmd hands a reply to the session off the update loop, since a
// successful submission writes to the socket.
func submitCmd(sess Session, text string) tea.Cmd {
	return func() tea.Msg {
		turn, err := sess.SubmitReply(text)
		return ReplyResultMsg{Text: text, Turn: turn, Err: err}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.transcriptLive {
			m.scrollToBottom()
		}
		return m, nil

	case NoticesMsg:
		cmds := []tea.Cmd{waitForNoticeCmd(m.notices)}
		for _, n := range msg.Notices {
			cmds = append(cmds, m.handleNotice(n))
		}
		return m, tea.Batch(cmds...)

	case NoticesClosedMsg:
		return m, nil

	case ReplyResultMsg:
		m.submitting = false
		m.refresh()
		if msg.Err != nil {
			if len(m.input) == 0 {
				m.input = []rune(msg.Text)
			}
			return m, m.setTransientError(replyErrorText(msg.Err))
		}
		if m.transcriptLive {
			m.scrollToBottom()
		}
		return m, nil

	case TickMsg:
		if m.snap.Status == session.StatusCompleted {
			return m, nil
		}
		return m, tickCmd()

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

// handleNotice refreshes the snapshot and reacts to the notice kind.
func (m *Model) handleNotice(n session.Notice) tea.Cmd {
	m.refresh()

	switch n.Kind {
	case session.NoticeConnected:
		m.statusText = "Connected"
		if m.errorMessage != "" && !m.errorTransient {
			m.errorMessage = ""
		}

	case session.NoticeQuestion:
		if m.appStatus == applications.StatusPending {
			m.appStatus = applications.StatusInterviewInProgress
		}
		m.statusText = "Your turn"

	case session.NoticeReplySent:
		m.statusText = "Waiting for the interviewer"

	case session.NoticeTyping:
		m.statusText = "Interviewer is typing"

	case session.NoticeCompleted:
		m.appStatus = applications.StatusEvaluationCompleted
		m.completedAt = n.At
		if m.completedAt.IsZero() {
			m.completedAt = m.now()
		}
		m.statusText = "Interview complete"

	case session.NoticeDisconnected:
		m.statusText = "Disconnected"

	case session.NoticeReconnecting:
		m.statusText = fmt.Sprintf("Reconnecting in %s (attempt %d)", n.Delay.Round(time.Second), n.Attempt)

	case session.NoticeProtocolError:
		return m.setTransientError(n.Message)

	case session.NoticeTransportError:
		m.errorMessage = n.Message
		m.errorTransient = false

	case session.NoticeResponseOverdue:
		return m.setTransientError("The interviewer is taking longer than usual")
	}

	if m.transcriptLive {
		m.scrollToBottom()
	}
	return nil
}

func (m *Model) refresh() {
	if m.sess != nil {
		m.snap = m.sess.Snapshot()
	}
}

func (m *Model) setTransientError(text string) tea.Cmd {
	m.errorMessage = text
	m.errorTransient = true
	return clearTransientErrorCmd()
}

func replyErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrAwaitingResponse):
		return "Wait for the interviewer before replying"
	case errors.Is(err, session.ErrNotConnected):
		return "Not connected; your reply was not sent"
	case errors.Is(err, session.ErrEmptyReply):
		return "Type a reply first"
	}
	return err.Error()
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	completed := m.snap.Status == session.StatusCompleted

	switch msg.String() {
	case KeyCtrlC, KeyEsc:
		return m, tea.Quit

	case KeyEnter:
		if completed {
			return m, tea.Quit
		}
		if m.submitting || m.sess == nil {
			return m, nil
		}
		text := string(m.input)
		m.input = nil
		m.submitting = true
		return m, submitCmd(m.sess, text)

	case KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil

	case KeyCtrlU:
		m.input = nil
		return m, nil

	case KeyUp:
		m.scrollBy(-1)
		return m, nil

	case KeyDown:
		m.scrollBy(1)
		return m, nil

	case KeyPgUp:
		m.scrollBy(-m.transcriptVisibleLines())
		return m, nil

	case KeyPgDown:
		m.scrollBy(m.transcriptVisibleLines())
		return m, nil

	case KeyEnd:
		m.transcriptLive = true
		m.scrollToBottom()
		return m, nil

	case KeyQuit, KeyQuitUpper:
		if completed {
			return m, tea.Quit
		}
	}

	if completed {
		return m, nil
	}
	switch msg.Type {
	case tea.KeyRunes:
		m.typeRunes(msg.Runes)
	case tea.KeySpace:
		m.typeRunes([]rune{' '})
	}
	return m, nil
}

// typeRunes appends to the input, stopping at the reply limit.
func (m *Model) typeRunes(r []rune) {
	for _, c := range r {
		if c == '\n' || c == '\r' {
			c = ' '
		}
		if m.maxReply > 0 && len(m.input) >= m.maxReply {
			return
		}
		m.input = append(m.input, c)
	}
}

func (m *Model) scrollBy(delta int) {
	maxScroll := m.maxTranscriptScroll()
	if m.transcriptLive {
		m.transcriptScroll = maxScroll
	}
	m.transcriptScroll += delta
	if m.transcriptScroll < 0 {
		m.transcriptScroll = 0
	}
	m.transcriptLive = false
	if m.transcriptScroll >= maxScroll {
		m.transcriptScroll = maxScroll
		m.transcriptLive = true
	}
}

func (m *Model) scrollToBottom() {
	m.transcriptScroll = m.maxTranscriptScroll()
}

func (m Model) maxTranscriptScroll() int {
	total := len(m.transcriptLines(m.transcriptWidth()))
	visible := m.transcriptVisibleLines()
	if total <= visible {
		return 0
	}
	return total - visible
}

func (m Model) transcriptVisibleLines() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(2) + panel title(1) + input(1) + error(1) + footer(1)
	reserved := 8
	return max(5, m.height-reserved)
}

func (m Model) transcriptWidth() int {
	if m.width == 0 {
		return 80
	}
	return max(30, m.width-2)
}

// elapsed is the interview clock, frozen once the interview completes.
func (m Model) elapsed() time.Duration {
	end := m.now()
	if !m.completedAt.IsZero() {
		end = m.completedAt
	}
	d := end.Sub(m.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderTranscriptPanel(m.transcriptWidth(), m.transcriptVisibleLines()+1))
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderInput())
	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	left := ui.TitleStyle.Render("INTERVIEW")
	if m.jobTitle != "" {
		position := m.jobTitle
		if m.companyName != "" {
			position += " at " + m.companyName
		}
		left += ui.HeaderStyle.Render("  " + position)
	} else if m.applicationID != "" {
		left += ui.DimStyle.Render("  application " + m.applicationID)
	}
	if m.appStatus != "" {
		left += ui.DimStyle.Render("  [" + m.appStatus.Label() + "]")
	}

	right := ui.StatusStyle.Render(formatElapsed(m.elapsed()))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderStatusBar() string {
	var dot string
	switch m.snap.Status {
	case session.StatusConnected:
		dot = ui.ConnectedDotStyle.Render("● CONNECTED")
	case session.StatusCompleted:
		dot = ui.ConnectedDotStyle.Render("✓ COMPLETED")
	case session.StatusDisconnected:
		dot = ui.OfflineDotStyle.Render("○ DISCONNECTED")
	default:
		dot = ui.PendingDotStyle.Render("◌ CONNECTING")
	}

	var typing string
	if m.snap.AgentTyping {
		typing = "  " + ui.SpinnerStyle.Render("⟳ typing")
	}

	var status string
	if m.statusText != "" {
		status = "  " + ui.StatusStyle.Render(m.statusText)
	}
	return dot + typing + status
}

// transcriptLines renders every turn, wrapped to width, followed by the
// typing indicator or the completion summary.
func (m Model) transcriptLines(width int) []string {
	// Prefix: "[HH:MM:SS] YOU " = 15 chars visible
	prefixWidth := 15
	textWidth := max(10, width-prefixWidth-2)
	indent := strings.Repeat(" ", prefixWidth)

	var lines []string
	for _, t := range m.snap.Turns {
		ts := ui.TimestampStyle.Render(t.CreatedAt.Local().Format("[15:04:05]"))
		var label string
		if t.Sender == conversation.SenderCandidate {
			label = ui.CandidateLabelStyle.Render("YOU ")
		} else {
			label = ui.AgentLabelStyle.Render("AI  ")
		}

		text := t.Text
		if t.Category != "" && t.Sender == conversation.SenderAgent {
			text = "[" + t.Category + "] " + text
		}
		wrapped := wrapText(text, textWidth)
		if t.Category != "" && t.Sender == conversation.SenderAgent {
			badge := "[" + t.Category + "]"
			wrapped[0] = ui.CategoryBadgeStyle.Render(badge) + strings.TrimPrefix(wrapped[0], badge)
		}
		if t.Scored() {
			last := len(wrapped) - 1
			wrapped[last] += " " + renderScoreBadge(*t.Score)
		}

		lines = append(lines, ts+" "+label+wrapped[0])
		for _, wl := range wrapped[1:] {
			lines = append(lines, indent+wl)
		}
		if t.ScoreExplanation != "" {
			for _, wl := range wrapText(t.ScoreExplanation, textWidth-2) {
				lines = append(lines, indent+ui.DimStyle.Render("↳ "+wl))
			}
		}
	}

	switch {
	case m.snap.Status == session.StatusCompleted:
		lines = append(lines, "")
		score := "n/a"
		if m.snap.FinalScore != nil {
			score = fmt.Sprintf("%.1f/100", *m.snap.FinalScore)
		}
		lines = append(lines, ui.CompletionStyle.Render("✓ Interview complete. Final score: "+score))
		if m.snap.CompletionMessage != "" {
			lines = append(lines, wrapText(m.snap.CompletionMessage, width-2)...)
		}
		if m.snap.RedirectTo != "" {
			lines = append(lines, ui.DimStyle.Render("Results: "+m.snap.RedirectTo))
		}
	case m.snap.AgentTyping:
		lines = append(lines, indent+ui.SpinnerStyle.Render("The interviewer is typing..."))
	case m.snap.AwaitingAgent:
		lines = append(lines, indent+ui.DimStyle.Render("Waiting for the interviewer..."))
	}
	return lines
}

func renderScoreBadge(score float64) string {
	return ui.ScoreStyle(score).Render(fmt.Sprintf("[%s/5]", formatScore(score)))
}

func formatScore(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func (m Model) renderTranscriptPanel(width, height int) string {
	var badge string
	if m.transcriptLive {
		badge = ui.LiveBadgeStyle.Render(" LIVE")
	} else {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}
	lines := []string{ui.PanelTitleStyle.Render(fmt.Sprintf("CONVERSATION (%d)", len(m.snap.Turns))) + badge}

	contentHeight := height - 1

	display := m.transcriptLines(width)
	if len(display) == 0 {
		lines = append(lines, "")
		switch m.snap.Status {
		case session.StatusDisconnected:
			lines = append(lines, ui.ErrorTextStyle.Render("  Connection lost. Reconnecting..."))
		default:
			lines = append(lines, ui.DimStyle.Render("  Waiting for the interviewer to join..."))
		}
	} else {
		start := 0
		if m.transcriptLive {
			if len(display) > contentHeight {
				start = len(display) - contentHeight
			}
		} else {
			start = m.transcriptScroll
		}
		if start < 0 {
			start = 0
		}
		end := min(start+contentHeight, len(display))
		for i := start; i < end; i++ {
			lines = append(lines, "  "+display[i])
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderInput() string {
	if m.snap.Status == session.StatusCompleted {
		return ui.DimStyle.Render("The interview has ended. Press q to exit.")
	}

	counter := ui.DimStyle.Render(fmt.Sprintf(" %d/%d", len(m.input), m.maxReply))
	ready := m.snap.Status == session.StatusConnected && !m.snap.AwaitingAgent && !m.submitting

	prompt := ui.InputPromptStyle.Render("> ")
	if !ready {
		prompt = ui.InputDisabledStyle.Render("> ")
	}

	avail := m.width - lipgloss.Width(prompt) - lipgloss.Width(counter) - 1
	text := m.input
	if avail > 0 && len(text) > avail {
		text = text[len(text)-avail:]
	}

	var body string
	switch {
	case len(text) > 0 && ready:
		body = string(text) + "▌"
	case len(text) > 0:
		body = ui.InputDisabledStyle.Render(string(text))
	case ready:
		body = ui.DimStyle.Render("Type your answer and press Enter") + "▌"
	default:
		body = ""
	}
	return padRight(prompt+body, m.width-lipgloss.Width(counter)) + counter
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string
	if m.snap.Status == session.StatusCompleted {
		parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Scroll"))
		parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))
		return strings.Join(parts, "  ")
	}
	parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Send"))
	parts = append(parts, ui.FooterKeyStyle.Render("Ctrl+U")+ui.FooterDescStyle.Render(" Clear"))
	parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Scroll"))
	parts = append(parts, ui.FooterKeyStyle.Render("Esc")+ui.FooterDescStyle.Render(" Quit"))
	return strings.Join(parts, "  ")
}

// Helpers

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mnt := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mnt, s)
	}
	return fmt.Sprintf("%02d:%02d", mnt, s)
}

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		} else {
			lines = append(lines, "")
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
