// Package queue provides the summarization work queue. Both implementations
// feed the same idempotent worker: the inline queue runs tasks on detached
// goroutines, the NATS queue hands them to a JetStream consumer. Delivery is
// at-least-once either way; the worker's idempotency check makes duplicates
// harmless.
package queue

import (
	"context"

	"github.com/admitpath/advisory-engine/pkg/logger"
)

// Task identifies one conversation to summarize.
type Task struct {
	ConversationID string `json:"conversation_id"`
	StudentID      string `json:"student_id"`
}

// Handler processes one task.
type Handler func(ctx context.Context, task Task) error

// Queue accepts fire-and-forget summarization work. Enqueue never blocks on
// task execution and never propagates task failures to the caller.
type Queue interface {
	Enqueue(ctx context.Context, task Task)
}

// Inline runs each task on a detached goroutine in the current process. The
// goroutine outlives the request that spawned it; failures are logged and
// left for the catch-up sweep.
type Inline struct {
	handler Handler
	logger  *logger.Logger
}

// NewInline creates an in-process queue delivering to handler.
func NewInline(handler Handler, log *logger.Logger) *Inline {
	return &Inline{handler: handler, logger: log}
}

// Enqueue runs the task in the background, detached from the caller's
// context so a finished request does not cancel the work.
func (q *Inline) Enqueue(ctx context.Context, task Task) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("summarization task panicked",
					"conversation_id", task.ConversationID, "panic", r)
			}
		}()

		if err := q.handler(context.WithoutCancel(ctx), task); err != nil {
			q.logger.Warn("summarization task failed, will retry via sweep",
				"conversation_id", task.ConversationID, "error", err)
		}
	}()
}
