package archive

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/session"
)

const recorderQueue = 256

// Recorder persists a live session's turns as they happen. It is a
// session.Observer; writes run on its own goroutine so Notify never blocks
// the session.
type Recorder struct {
	store     *Store
	interview string
	log       *zap.Logger

	mu       sync.Mutex
	closed   bool
	finished bool
	queue    chan session.Notice
	done     chan struct{}
}

// NewRecorder starts recording into the given interview.
func NewRecorder(store *Store, interviewID string, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		store:     store,
		interview: interviewID,
		log:       log.With(zap.String("interview_id", interviewID)),
		queue:     make(chan session.Notice, recorderQueue),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Notify queues a notice for persistence. Notices arriving when the queue
// is full are dropped and logged.
func (r *Recorder) Notify(n session.Notice) {
	switch n.Kind {
	case session.NoticeQuestion, session.NoticeReplySent, session.NoticeScored, session.NoticeCompleted:
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- n:
	default:
		r.log.Warn("Archive queue full, dropping notice", zap.Stringer("kind", n.Kind))
	}
}

// Close drains pending writes. An interview that never completed is marked
// abandoned.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done

	if !r.finished {
		if err := r.store.FinishInterview(r.interview, StatusAbandoned, nil, time.Now()); err != nil {
			r.log.Warn("Failed to mark interview abandoned", zap.Error(err))
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for n := range r.queue {
		r.apply(n)
	}
}

func (r *Recorder) apply(n session.Notice) {
	switch n.Kind {
	case session.NoticeQuestion, session.NoticeReplySent, session.NoticeScored:
		if err := r.store.SaveTurn(r.interview, n.Turn); err != nil {
			r.log.Warn("Failed to archive turn", zap.Error(err), zap.Int64("turn_id", n.Turn.ID))
		}
	case session.NoticeCompleted:
		if err := r.store.FinishInterview(r.interview, StatusCompleted, n.Score, n.At); err != nil {
			r.log.Warn("Failed to archive completion", zap.Error(err))
			return
		}
		r.finished = true
	}
}
