package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/admitpath/advisory-engine/pkg/logger"
)

const (
	// StreamName is the JetStream stream carrying summarization tasks.
	StreamName = "SUMMARIZE"

	// SubjectPrefix is the prefix for all summarization subjects.
	SubjectPrefix = "summarize"

	// ConsumerName is the durable consumer shared by worker instances.
	ConsumerName = "summarizer"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
}

// NATSQueue publishes summarization tasks to JetStream and runs the durable
// consumer that executes them.
type NATSQueue struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	handler Handler
	logger  *logger.Logger
}

// ConnectNATS establishes the NATS connection and ensures the work stream
// exists.
func ConnectNATS(ctx context.Context, cfg NATSConfig, handler Handler, log *logger.Logger) (*NATSQueue, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &NATSQueue{conn: nc, js: js, handler: handler, logger: log}
	if err := q.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *NATSQueue) ensureStream(ctx context.Context) error {
	_, err := q.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = q.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Pending conversation summarization tasks",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// TaskSubject returns the subject for a summarization task.
func TaskSubject(studentID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, studentID, conversationID)
}

// Enqueue publishes the task. Publish failures are logged, not returned:
// the catch-up sweep covers lost triggers.
func (q *NATSQueue) Enqueue(ctx context.Context, task Task) {
	data, err := json.Marshal(task)
	if err != nil {
		q.logger.Error("failed to marshal task", "error", err)
		return
	}

	if _, err := q.js.Publish(ctx, TaskSubject(task.StudentID, task.ConversationID), data); err != nil {
		q.logger.Warn("failed to publish summarization task, will retry via sweep",
			"conversation_id", task.ConversationID, "error", err)
	}
}

// StartConsumer creates the durable consumer and begins executing tasks.
// Failed tasks are negatively acknowledged and redelivered by the broker;
// the worker's idempotency check makes redelivery safe.
func (q *NATSQueue) StartConsumer(ctx context.Context) (jetstream.ConsumeContext, error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    5,
		AckWait:       2 * time.Minute,
		FilterSubject: fmt.Sprintf("%s.>", SubjectPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return consumer.Consume(func(msg jetstream.Msg) {
		var task Task
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			q.logger.Error("failed to unmarshal task", "error", err)
			msg.Term()
			return
		}

		if err := q.handler(context.WithoutCancel(ctx), task); err != nil {
			q.logger.Warn("summarization task failed, requesting redelivery",
				"conversation_id", task.ConversationID, "error", err)
			msg.Nak()
			return
		}
		msg.Ack()
	})
}

// Close closes the NATS connection.
func (q *NATSQueue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// IsConnected reports broker connectivity, for readiness checks.
func (q *NATSQueue) IsConnected() bool {
	return q.conn != nil && q.conn.IsConnected()
}
