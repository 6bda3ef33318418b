// Package session handles one client's live connection to the exercise
// platform: it accepts answer/recorrect/snippet/settings messages, hands the
// slow grading work to the dispatcher, and forwards pushes addressed to the
// user back out. Grading never blocks message handling; every request runs as
// its own sub-task.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/practicepy/grader/api"
	"github.com/practicepy/grader/internal/dispatch"
	"github.com/practicepy/grader/internal/feedback"
)

// Outbox writes one message to the client connection.
type Outbox interface {
	Send(v any) error
}

// SubscribeFunc attaches a handler to a push subject and returns an
// unsubscribe func. A thin adapter over (*nats.Conn).Subscribe in production.
type SubscribeFunc func(subject string, handler func(data []byte)) (func(), error)

// Backend is the slice of the store the session needs.
type Backend interface {
	CreateAnswer(ctx context.Context, userID, exerciseID int64, sourceCode string) (int64, error)
	AnswerByID(ctx context.Context, id int64) (*feedback.Answer, error)
	CreateSnippet(ctx context.Context, userID int64, sourceCode string) (int64, error)
	ExerciseScripts(ctx context.Context, exerciseID int64) (check string, preCheck string, err error)
}

type Config struct {
	UserID     int64
	ExerciseID int64
	Locale     string
	// Expiry bounds how long an awaiting sub-task holds on to a job before
	// reporting the result as unknown.
	Expiry time.Duration
}

type Session struct {
	userID     int64
	exerciseID int64
	expiry     time.Duration

	disp      dispatch.Dispatcher
	backend   Backend
	out       Outbox
	subscribe SubscribeFunc

	mu     sync.RWMutex
	locale string

	// inflight maps job uuid to a human-readable tag; a session may have an
	// answer being graded and a snippet running at the same time.
	inflight *xsync.MapOf[string, string]
	unsubs   []func()
	wg       sync.WaitGroup
}

func New(cfg Config, disp dispatch.Dispatcher, backend Backend, out Outbox, subscribe SubscribeFunc) *Session {
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 60 * time.Second
	}
	return &Session{
		userID:     cfg.UserID,
		exerciseID: cfg.ExerciseID,
		expiry:     cfg.Expiry,
		disp:       disp,
		backend:    backend,
		out:        out,
		subscribe:  subscribe,
		locale:     cfg.Locale,
		inflight:   xsync.NewMapOf[string, string](),
	}
}

// Start subscribes to the user's push subjects. Every open session of the
// same user gets its own subscription, so all of them receive the verdict.
func (s *Session) Start() error {
	subjects := []string{
		api.AnswerSubject(s.userID, s.exerciseID),
		api.SnippetSubject(s.userID),
	}
	for _, subject := range subjects {
		unsub, err := s.subscribe(subject, s.forwardPush)
		if err != nil {
			s.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.unsubs = append(s.unsubs, unsub)
	}
	return nil
}

// Close detaches from the push subjects and waits for in-flight sub-tasks to
// settle. Running worker jobs are not cancelled; their results are persisted
// and simply never delivered here.
func (s *Session) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.wg.Wait()
}

func (s *Session) forwardPush(data []byte) {
	if err := s.out.Send(json.RawMessage(data)); err != nil {
		slog.Debug("failed to forward push", "user", s.userID, "error", err)
	}
}

// Handle processes one inbound client message.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	var msg api.SessionMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to parse session message: %w", err)
	}

	switch msg.Type {
	case api.MsgTypeAnswer:
		return s.handleAnswer(ctx, msg.SourceCode)
	case api.MsgTypeRecorrect:
		return s.handleRecorrect(ctx, msg.ID)
	case api.MsgTypeSnippet:
		return s.handleSnippet(ctx, msg.SourceCode)
	case api.MsgTypeSettings:
		s.setLocale(msg.Value)
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (s *Session) handleAnswer(ctx context.Context, sourceCode string) error {
	answerID, err := s.backend.CreateAnswer(ctx, s.userID, s.exerciseID, sourceCode)
	if err != nil {
		return err
	}
	return s.submitAnswer(ctx, answerID, s.exerciseID, sourceCode)
}

func (s *Session) handleRecorrect(ctx context.Context, answerID int64) error {
	answer, err := s.backend.AnswerByID(ctx, answerID)
	if err != nil {
		return err
	}
	if answer.UserID != s.userID {
		return fmt.Errorf("answer %d does not belong to this session", answerID)
	}
	return s.submitAnswer(ctx, answer.ID, answer.ExerciseID, answer.SourceCode)
}

func (s *Session) submitAnswer(ctx context.Context, answerID, exerciseID int64, sourceCode string) error {
	check, preCheck, err := s.backend.ExerciseScripts(ctx, exerciseID)
	if err != nil {
		return err
	}

	job := api.Job{
		Kind:       api.JobKindAnswer,
		Checker:    check,
		PreCheck:   preCheck,
		SourceCode: sourceCode,
		Locale:     s.Locale(),
		AnswerID:   answerID,
		UserID:     s.userID,
		ExerciseID: exerciseID,
	}

	h, err := s.disp.Submit(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to submit answer job: %w", err)
	}

	s.await(h, fmt.Sprintf("answer:%d", answerID), api.JobExpiredPush{
		Type:     api.PushTypeJobExpired,
		Exercise: exerciseID,
		Answer:   answerID,
	})
	return nil
}

func (s *Session) handleSnippet(ctx context.Context, sourceCode string) error {
	snippetID, err := s.backend.CreateSnippet(ctx, s.userID, sourceCode)
	if err != nil {
		return err
	}

	job := api.Job{
		Kind:       api.JobKindSnippet,
		SourceCode: sourceCode,
		Locale:     s.Locale(),
		SnippetID:  snippetID,
		UserID:     s.userID,
	}

	h, err := s.disp.Submit(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to submit snippet job: %w", err)
	}

	s.await(h, fmt.Sprintf("snippet:%d", snippetID), api.JobExpiredPush{
		Type:    api.PushTypeJobExpired,
		Snippet: snippetID,
	})
	return nil
}

// await tracks the job and waits for its result on a separate goroutine so
// the connection handler stays responsive. Delivery of the verdict itself
// happens over the push subjects; the waiting sub-task only reports expiry.
func (s *Session) await(h dispatch.Handle, tag string, expired api.JobExpiredPush) {
	s.inflight.Store(h.JobUuid(), tag)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(h.JobUuid())

		res, err := s.disp.Await(h, s.expiry)
		switch {
		case errors.Is(err, dispatch.ErrJobExpired):
			slog.Warn("job expired", "job", h.JobUuid(), "tag", tag)
			if err := s.out.Send(expired); err != nil {
				slog.Debug("failed to send expiry notice", "error", err)
			}
		case err != nil:
			slog.Error("failed to await job", "job", h.JobUuid(), "error", err)
		default:
			slog.Debug("job settled", "job", h.JobUuid(), "tag", tag, "outcome", res.Outcome)
		}
	}()
}

// InflightCount reports how many grading sub-tasks this session is waiting
// on.
func (s *Session) InflightCount() int {
	return s.inflight.Size()
}

func (s *Session) Locale() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locale
}

func (s *Session) setLocale(locale string) {
	if locale == "" {
		return
	}
	s.mu.Lock()
	s.locale = locale
	s.mu.Unlock()
}
