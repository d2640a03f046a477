// ABOUTME: Durable typed publish/subscribe queue with per-conversation FIFO dispatch
// ABOUTME: Messages are persisted before dispatch and replayed on restart until handled

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/store"
)

// markHandledTimeout bounds the store write that flips the handled flag,
// so a slow backend cannot wedge a conversation's lane forever.
const markHandledTimeout = 5 * time.Second

// Handler processes one message. Returned errors are logged and swallowed
// at the dispatch level; a handler that needs visibility for a failure
// must emit its own error message.
type Handler func(ctx context.Context, msg *message.Message) error

// Log defines what the queue needs from storage.
type Log interface {
	Create(ctx context.Context, rec *store.Record) error
	Update(ctx context.Context, rec *store.Record) error
	All(ctx context.Context) ([]*store.Record, error)
}

// Queue is a durable message bus. Within one conversation, messages are
// dispatched strictly in send order and one at a time; across
// conversations dispatch is fully concurrent. A message is persisted
// before any handler sees it, and is marked handled in the store only
// after every registered handler for its type has run.
type Queue struct {
	log    Log
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[message.Type][]Handler
	lanes    map[string]*lane
	baseCtx  context.Context

	inflight sync.WaitGroup
}

// lane is one conversation's pending work. A single drain goroutine owns
// the lane while draining is true, so handlers for one conversation never
// run concurrently.
type lane struct {
	pending  []*message.Message
	draining bool
}

// New creates a queue on top of the given message log.
func New(log Log, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		log:      log,
		logger:   logger.With("component", "queue"),
		handlers: make(map[message.Type][]Handler),
		lanes:    make(map[string]*lane),
		baseCtx:  context.Background(),
	}
}

// On registers a handler for one message type. Handlers for a type run in
// registration order.
func (q *Queue) On(t message.Type, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = append(q.handlers[t], h)
}

// Send assigns the message an id and timestamp, persists it, and schedules
// it on its conversation's lane. Store failures are returned to the caller
// and nothing is dispatched.
func (q *Queue) Send(ctx context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Handled = false

	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	rec := &store.Record{
		PrimaryKey:   msg.ID,
		SecondaryKey: msg.Conversation,
		Payload:      payload,
	}
	if err := q.log.Create(ctx, rec); err != nil {
		return fmt.Errorf("persisting message %s: %w", msg.ID, err)
	}

	q.logger.Debug("message sent",
		"message_id", msg.ID,
		"conversation", msg.Conversation,
		"type", msg.Type)

	q.schedule(msg)
	return nil
}

// Start replays every persisted message whose handled flag is still false,
// preserving per-conversation order, then leaves the queue accepting new
// sends. Safe to call while sends are already in flight: replay and send
// both append to the same per-conversation lanes. The given context is the
// base context handlers run under.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	q.baseCtx = ctx
	q.mu.Unlock()

	records, err := q.log.All(ctx)
	if err != nil {
		return fmt.Errorf("loading unhandled messages: %w", err)
	}

	replayed := 0
	for _, rec := range records {
		msg, err := message.Decode(rec.Payload)
		if err != nil {
			q.logger.Error("skipping undecodable message",
				"primary_key", rec.PrimaryKey,
				"error", err)
			continue
		}
		if msg.Handled {
			continue
		}
		q.schedule(msg)
		replayed++
	}

	if replayed > 0 {
		q.logger.Info("replaying unhandled messages", "count", replayed)
	}
	return nil
}

// Wait blocks until every scheduled message has finished processing.
// Used for orderly shutdown; a message stuck in a handler blocks Wait.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

// schedule appends the message to its conversation's lane and starts a
// drain goroutine if the lane is idle.
func (q *Queue) schedule(msg *message.Message) {
	q.inflight.Add(1)

	q.mu.Lock()
	defer q.mu.Unlock()

	ln, ok := q.lanes[msg.Conversation]
	if !ok {
		ln = &lane{}
		q.lanes[msg.Conversation] = ln
	}
	ln.pending = append(ln.pending, msg)
	if !ln.draining {
		ln.draining = true
		go q.drain(msg.Conversation, ln)
	}
}

// drain processes a lane's pending messages FIFO until it empties.
func (q *Queue) drain(conversation string, ln *lane) {
	for {
		q.mu.Lock()
		if len(ln.pending) == 0 {
			ln.draining = false
			q.mu.Unlock()
			return
		}
		msg := ln.pending[0]
		ln.pending = ln.pending[1:]
		ctx := q.baseCtx
		q.mu.Unlock()

		q.process(ctx, msg)
		q.inflight.Done()
	}
}

// process runs every registered handler for the message's type in order,
// then marks the message handled. Handler errors and panics are logged and
// swallowed so a poisoned message cannot wedge the conversation.
func (q *Queue) process(ctx context.Context, msg *message.Message) {
	if msg.Handled {
		return
	}

	q.mu.Lock()
	handlers := make([]Handler, len(q.handlers[msg.Type]))
	copy(handlers, q.handlers[msg.Type])
	q.mu.Unlock()

	for _, h := range handlers {
		if err := q.invoke(ctx, h, msg); err != nil {
			q.logger.Error("handler failed",
				"message_id", msg.ID,
				"conversation", msg.Conversation,
				"type", msg.Type,
				"error", err)
		}
	}

	q.markHandled(msg)
}

// invoke runs one handler, converting a panic into an error.
func (q *Queue) invoke(ctx context.Context, h Handler, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

// markHandled flips the durable handled flag. The write uses its own
// timeout context so persistence outlives a cancelled dispatch context.
func (q *Queue) markHandled(msg *message.Message) {
	msg.Handled = true

	payload, err := msg.Encode()
	if err != nil {
		q.logger.Error("failed to encode handled message",
			"message_id", msg.ID,
			"error", err)
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), markHandledTimeout)
	defer cancel()

	rec := &store.Record{
		PrimaryKey:   msg.ID,
		SecondaryKey: msg.Conversation,
		Payload:      payload,
	}
	if err := q.log.Update(saveCtx, rec); err != nil {
		q.logger.Error("failed to mark message handled",
			"message_id", msg.ID,
			"conversation", msg.Conversation,
			"error", err)
	}
}
