// Package mockserver provides a scripted interview backend that speaks the
// same REST and websocket protocol as the real one. It is meant for local
// development and tests.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/applications"
	"github.com/jwulff/interview/internal/conversation"
	"github.com/jwulff/interview/internal/protocol"
)

// Options configures a Server.
type Options struct {
	Script *Script
	// Token, when set, is the only credential accepted.
	Token string
	// TypingDelay is the pause between the typing indicator and the next
	// message.
	TypingDelay time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

// Server is the mock backend.
type Server struct {
	script   *Script
	token    string
	delay    time.Duration
	log      *zap.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
	engine   *gin.Engine

	mu    sync.Mutex
	apps  map[string]*interview
	conns map[*websocket.Conn]struct{}
}

// interview is the server-side state of one application.
type interview struct {
	app      applications.Application
	messages []applications.Message
	step     int
	scores   []float64
}

func New(opts Options) *Server {
	script := opts.Script
	if script == nil {
		script = DefaultScript()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		script: script,
		token:  opts.Token,
		delay:  opts.TypingDelay,
		log:    log,
		now:    now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		apps:  make(map[string]*interview),
		conns: make(map[*websocket.Conn]struct{}),
	}
	for _, seed := range script.Applications {
		s.apps[seed.ID] = s.newInterview(seed)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Mock interview backend listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeConns()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.log))

	router.GET("/applications/:id", s.getApplication)
	router.GET("/applications/:id/transcript", s.getTranscript)
	router.GET("/ws/interview/:id", s.interviewSocket)
	return router
}

func (s *Server) getApplication(c *gin.Context) {
	if !s.authorized(bearer(c.GetHeader("Authorization"))) {
		problem(c, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	iv := s.lookup(c.Param("id"))
	if iv == nil {
		problem(c, http.StatusNotFound, "Application not found")
		return
	}
	s.mu.Lock()
	app := iv.app
	s.mu.Unlock()
	c.JSON(http.StatusOK, app)
}

func (s *Server) getTranscript(c *gin.Context) {
	if !s.authorized(bearer(c.GetHeader("Authorization"))) {
		problem(c, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	iv := s.lookup(c.Param("id"))
	if iv == nil {
		problem(c, http.StatusNotFound, "Application not found")
		return
	}
	s.mu.Lock()
	tr := applications.Transcript{
		ApplicationID: iv.app.ID,
		Messages:      append([]applications.Message{}, iv.messages...),
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, tr)
}

func (s *Server) interviewSocket(c *gin.Context) {
	id := c.Param("id")
	token := c.Query("token")
	if token == "" {
		token = bearer(c.GetHeader("Authorization"))
	}
	if !s.authorized(token) {
		problem(c, http.StatusForbidden, "invalid token for this interview")
		return
	}
	iv := s.lookup(id)
	if iv == nil {
		problem(c, http.StatusNotFound, "Application not found")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	s.track(conn)
	defer s.untrack(conn)

	log := s.log.With(zap.String("application_id", id))
	if err := s.converse(conn, iv, log); err != nil {
		log.Debug("Interview socket ended", zap.Error(err))
	}
}

// converse runs one websocket connection. It writes from this goroutine
// only.
func (s *Server) converse(conn *websocket.Conn, iv *interview, log *zap.Logger) error {
	s.mu.Lock()
	app := iv.app
	s.mu.Unlock()

	if !app.Status.Interviewable() {
		conn.WriteJSON(protocol.Event{Type: protocol.KindError, Message: "This interview is already finished."})
		return closeNormal(conn)
	}

	if err := conn.WriteJSON(protocol.Event{
		Type:          protocol.KindConnected,
		Message:       fmt.Sprintf("Connected to the interview for %s at %s", app.JobTitle, app.CompanyName),
		ApplicationID: app.ID,
	}); err != nil {
		return err
	}

	if app.Status == applications.StatusPending {
		s.mu.Lock()
		s.startLocked(iv)
		q := s.recordLocked(iv, conversation.SenderAgent, s.script.Greeting, "greeting")
		s.mu.Unlock()
		if err := conn.WriteJSON(questionEvent(q)); err != nil {
			return err
		}
	}

	for {
		var cmd protocol.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return err
		}
		if cmd.Type != protocol.KindCandidateMessage {
			log.Debug("Ignoring command", zap.String("type", string(cmd.Type)))
			continue
		}
		answer := strings.TrimSpace(cmd.MessageText)
		if answer == "" {
			continue
		}

		done, err := s.answer(conn, iv, answer, log)
		if err != nil {
			return err
		}
		if done {
			return closeNormal(conn)
		}
	}
}

// answer records one reply and sends what follows it. done is true when the
// interview has completed.
func (s *Server) answer(conn *websocket.Conn, iv *interview, text string, log *zap.Logger) (bool, error) {
	s.mu.Lock()
	answerIdx := len(iv.messages)
	s.recordLocked(iv, conversation.SenderCandidate, text, "")
	// The reply to the greeting is not graded.
	graded := iv.step > 0
	s.mu.Unlock()

	if err := conn.WriteJSON(protocol.Event{Type: protocol.KindTyping, Message: "The interviewer is typing..."}); err != nil {
		return false, err
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	var score float64
	var explanation string
	if graded {
		score, explanation = ScoreAnswer(text)
	}

	s.mu.Lock()
	if graded {
		iv.scores = append(iv.scores, score)
		iv.messages[answerIdx].AgentScore = &score
		iv.messages[answerIdx].ScoreExplanation = explanation
	}
	if iv.step < len(s.script.Questions) {
		next := s.script.Questions[iv.step]
		iv.step++
		q := s.recordLocked(iv, conversation.SenderAgent, next.Text, next.Category)
		s.mu.Unlock()

		if err := conn.WriteJSON(questionEvent(q)); err != nil {
			return false, err
		}
		if graded {
			if err := conn.WriteJSON(protocol.Event{
				Type:             protocol.KindScoreUpdate,
				Score:            protocol.Float64Ptr(score),
				Explanation:      explanation,
				QuestionCategory: next.Category,
			}); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	global := globalScore(iv.scores)
	closing := s.script.ClosingMessage(global)
	s.recordLocked(iv, conversation.SenderAgent, closing, "closing")
	now := s.now()
	iv.app.Status = applications.StatusEvaluationCompleted
	iv.app.GlobalScore = &global
	iv.app.InterviewCompletedAt = &applications.Time{Time: now}
	if iv.app.InterviewStartedAt != nil {
		minutes := int(now.Sub(iv.app.InterviewStartedAt.Time).Minutes())
		iv.app.InterviewDurationMinutes = &minutes
	}
	appID := iv.app.ID
	s.mu.Unlock()

	if graded {
		if err := conn.WriteJSON(protocol.Event{
			Type:        protocol.KindScoreUpdate,
			Score:       protocol.Float64Ptr(score),
			Explanation: explanation,
		}); err != nil {
			return false, err
		}
	}
	log.Info("Interview completed", zap.Float64("global_score", global))
	return true, conn.WriteJSON(protocol.Event{
		Type:        protocol.KindInterviewCompleted,
		Message:     closing,
		GlobalScore: protocol.Float64Ptr(global),
		RedirectTo:  "/dashboard/applications/" + appID,
	})
}

// globalScore scales the mean 0-5 answer score to 0-100.
func globalScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores)) * 20
}

func (s *Server) newInterview(seed SeedApplication) *interview {
	status := applications.Status(seed.Status)
	if status == "" {
		status = applications.StatusPending
	}
	jobTitle := seed.JobTitle
	if jobTitle == "" {
		jobTitle = s.script.JobTitle
	}
	company := seed.CompanyName
	if company == "" {
		company = s.script.CompanyName
	}
	return &interview{app: applications.Application{
		ID:            seed.ID,
		CandidateName: seed.CandidateName,
		JobPostingID:  "job-" + seed.ID,
		JobTitle:      jobTitle,
		CompanyName:   company,
		Status:        status,
		CreatedAt:     applications.Time{Time: s.now()},
	}}
}

// lookup returns the interview for id. Without seeded applications any id
// is accepted and starts pending.
func (s *Server) lookup(id string) *interview {
	s.mu.Lock()
	defer s.mu.Unlock()
	if iv, ok := s.apps[id]; ok {
		return iv
	}
	if len(s.script.Applications) > 0 || id == "" {
		return nil
	}
	iv := s.newInterview(SeedApplication{ID: id})
	s.apps[id] = iv
	return iv
}

func (s *Server) startLocked(iv *interview) {
	iv.app.Status = applications.StatusInterviewInProgress
	iv.app.InterviewStartedAt = &applications.Time{Time: s.now()}
}

func (s *Server) recordLocked(iv *interview, sender conversation.Sender, text, category string) applications.Message {
	m := applications.Message{
		Order:            len(iv.messages),
		Sender:           string(sender),
		Timestamp:        applications.Time{Time: s.now()},
		MessageText:      text,
		QuestionCategory: category,
	}
	iv.messages = append(iv.messages, m)
	return m
}

func questionEvent(m applications.Message) protocol.Event {
	return protocol.Event{
		Type:             protocol.KindQuestion,
		Sender:           m.Sender,
		MessageText:      m.MessageText,
		QuestionCategory: m.QuestionCategory,
		Timestamp:        protocol.FormatTime(m.Timestamp.Time),
	}
}

func (s *Server) authorized(token string) bool {
	return s.token == "" || token == s.token
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// closeConns drops every open websocket; http.Server.Shutdown does not
// touch hijacked connections.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func closeNormal(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func bearer(header string) string {
	return strings.TrimPrefix(header, "Bearer ")
}

func problem(c *gin.Context, status int, detail string) {
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(status, applications.ErrorResponse{
		Type:     fmt.Sprintf("about:blank#%d", status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request.URL.Path,
	})
}
