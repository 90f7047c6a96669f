package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cordai/internal/models"
	"cordai/internal/service/ai"
	"cordai/internal/service/assistant"
)

// ErrorMessage is the only failure text a chat client ever sees once the
// stream is open.
const ErrorMessage = "An error occurred while processing your request. Please try again."

const (
	DefaultTimeout = 120 * time.Second
	touchTimeout   = 15 * time.Second
)

var errNoFinish = errors.New("agent stream closed without finish")

// Emitter writes one frame to the client.
type Emitter interface {
	Emit(frame models.Frame) error
}

type EmitterFunc func(frame models.Frame) error

func (f EmitterFunc) Emit(frame models.Frame) error { return f(frame) }

// Resolver finds an agent by logical name.
type Resolver interface {
	Resolve(name string) (ai.Invoker, error)
}

// ConversationToucher records activity on a conversation summary.
type ConversationToucher interface {
	Exists(ctx context.Context, userID, conversationID string) (bool, error)
	Touch(ctx context.Context, userID, conversationID, titleHint string) (*models.Conversation, error)
}

// Request is a validated chat turn.
type Request struct {
	ConversationID string
	UserID         string
	Message        models.Message
}

type Options struct {
	Agents        Resolver
	AgentName     string
	Conversations ConversationToucher
	Titles        *assistant.TitleService
	Timeout       time.Duration
}

// Relay pumps agent frames to a client and folds every failure into a
// single error frame followed by finish.
type Relay struct {
	agents        Resolver
	agentName     string
	conversations ConversationToucher
	titles        *assistant.TitleService
	timeout       time.Duration

	touches sync.WaitGroup
}

func New(opts Options) *Relay {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Relay{
		agents:        opts.Agents,
		agentName:     opts.AgentName,
		conversations: opts.Conversations,
		titles:        opts.Titles,
		timeout:       opts.Timeout,
	}
}

// Agent resolves the configured agent. Callers check this before opening
// the stream.
func (r *Relay) Agent() (ai.Invoker, error) {
	if r.agents == nil {
		return nil, ai.ErrAgentUnavailable
	}
	return r.agents.Resolve(r.agentName)
}

type run struct {
	emit     Emitter
	req      Request
	finished bool
}

func (s *run) fail(cause error) error {
	if s.finished {
		return cause
	}
	s.finished = true
	log.Printf("[relay] conversation=%s user=%s: %v", s.req.ConversationID, s.req.UserID, cause)
	if err := s.emit.Emit(models.Frame{Type: models.FrameError, Message: ErrorMessage}); err != nil {
		return cause
	}
	_ = s.emit.Emit(models.Finish(models.FinishError))
	return cause
}

func (s *run) finish() error {
	s.finished = true
	return s.emit.Emit(models.Finish(models.FinishStop))
}

// Run invokes agent for req and streams the reply through emit. It always
// ends with exactly one finish frame unless the client went away. The
// returned error is for logging only.
func (r *Relay) Run(ctx context.Context, agent ai.Invoker, req Request, emit Emitter) (err error) {
	state := &run{emit: emit, req: req}
	defer func() {
		if rec := recover(); rec != nil {
			err = state.fail(fmt.Errorf("panic: %v", rec))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	frames, err := agent.Invoke(runCtx, ai.Invocation{
		ThreadID:   req.ConversationID,
		ResourceID: req.UserID,
		Content:    assistant.Enrich(req.Message.Content, req.UserID),
	})
	if err != nil {
		return state.fail(err)
	}

	for {
		select {
		case <-runCtx.Done():
			return r.stopped(runCtx, state)
		case frame, ok := <-frames:
			if !ok {
				if runCtx.Err() != nil {
					return r.stopped(runCtx, state)
				}
				return state.fail(errNoFinish)
			}
			switch frame.Type {
			case models.FrameTextDelta:
				if err := emit.Emit(frame); err != nil {
					state.finished = true
					return fmt.Errorf("write frame: %w", err)
				}
			case models.FrameError:
				cause := frame.Err
				if cause == nil {
					cause = errors.New(frame.Message)
				}
				return state.fail(cause)
			case models.FrameFinish:
				if err := state.finish(); err != nil {
					return fmt.Errorf("write finish: %w", err)
				}
				r.touchAsync(ctx, req)
				return nil
			}
		}
	}
}

// stopped handles a done context: a deadline is a failure the client is
// told about, a cancellation means the client left.
func (r *Relay) stopped(ctx context.Context, state *run) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return state.fail(fmt.Errorf("stream timed out after %s", r.timeout))
	}
	state.finished = true
	log.Printf("[relay] conversation=%s: client disconnected", state.req.ConversationID)
	return ctx.Err()
}

// Wait blocks until registry updates started by finished runs are done.
func (r *Relay) Wait() {
	r.touches.Wait()
}

// touchAsync records the turn in the registry after the stream has ended so
// title generation never holds the response open.
func (r *Relay) touchAsync(parent context.Context, req Request) {
	if r.conversations == nil || req.UserID == "" || req.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), touchTimeout)
	r.touches.Add(1)
	go func() {
		defer r.touches.Done()
		defer cancel()
		r.touch(ctx, req)
	}()
}

func (r *Relay) touch(ctx context.Context, req Request) {

	exists, err := r.conversations.Exists(ctx, req.UserID, req.ConversationID)
	if err != nil {
		log.Printf("[relay] conversation=%s lookup: %v", req.ConversationID, err)
		return
	}
	title := ""
	if !exists {
		title = r.titles.GenerateTitle(ctx, req.Message.Content)
	}
	if _, err := r.conversations.Touch(ctx, req.UserID, req.ConversationID, title); err != nil {
		log.Printf("[relay] conversation=%s touch: %v", req.ConversationID, err)
	}
}
