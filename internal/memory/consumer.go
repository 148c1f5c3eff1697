package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/PQContinuum/PQ-Frontend-sub000/internal/nats"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/plans"
)

// extractionMaxDeliver caps redeliveries of a job that keeps failing on persistence.
const extractionMaxDeliver = 5

// ExtractionRunner loads the stored turns of a job and runs extraction under a deadline.
// It is shared by the queue consumer and the in-process fallback.
type ExtractionRunner struct {
	svc     *Service
	turns   TurnSource
	timeout time.Duration
}

// NewExtractionRunner creates a runner. turns may be nil when every job carries its own turns.
func NewExtractionRunner(svc *Service, turns TurnSource, timeout time.Duration) *ExtractionRunner {
	return &ExtractionRunner{svc: svc, turns: turns, timeout: timeout}
}

// Run executes one extraction job.
func (r *ExtractionRunner) Run(ctx context.Context, job ExtractionJob) (ExtractionResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if len(job.Turns) == 0 && r.turns != nil {
		turns, err := r.turns.RecentTurns(ctx, job.UserID, job.ConversationID, 0)
		if err != nil {
			return ExtractionResult{}, fmt.Errorf("loading conversation %s: %w", job.ConversationID, err)
		}
		job.Turns = turns
	}

	return r.svc.ExtractAndSave(ctx, job)
}

// jobMessage is the part of jetstream.Msg the consumer relies on.
type jobMessage interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// ExtractionConsumer drains extraction jobs from the memory stream.
type ExtractionConsumer struct {
	runner      *ExtractionRunner
	consumerMgr *inats.ConsumerManager
	ackWait     time.Duration
}

// NewExtractionConsumer creates a consumer. ackWait should exceed the runner timeout.
func NewExtractionConsumer(runner *ExtractionRunner, consumerMgr *inats.ConsumerManager, ackWait time.Duration) *ExtractionConsumer {
	return &ExtractionConsumer{runner: runner, consumerMgr: consumerMgr, ackWait: ackWait}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *ExtractionConsumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamMemory, inats.ConsumerMemoryExtractor,
		inats.SubjectExtractionRequest, c.ackWait, extractionMaxDeliver)
	if err != nil {
		return err
	}

	slog.Info("extraction consumer started", "consumer", inats.ConsumerMemoryExtractor)

	for {
		msgs, err := consumer.Fetch(5, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("extraction consumer: fetching jobs", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *ExtractionConsumer) handleMessage(ctx context.Context, msg jobMessage) {
	var evt inats.ExtractionRequested
	if err := json.Unmarshal(msg.Data(), &evt); err != nil || evt.UserID == "" || evt.ConversationID == "" {
		slog.Error("extraction consumer: dropping malformed job", "error", err)
		_ = msg.Ack()
		return
	}

	job, err := jobFromEvent(evt)
	if err != nil {
		slog.Error("extraction consumer: dropping job with malformed turns", "error", err, "request_id", evt.RequestID)
		_ = msg.Ack()
		return
	}

	res, err := c.runner.Run(ctx, job)
	switch {
	case errors.Is(err, ErrInvalidCategory):
		slog.Warn("memory: extraction produced an unknown category, dropping job",
			"request_id", evt.RequestID, "user_id", evt.UserID)
		_ = msg.Term()
		return
	case err != nil:
		slog.Error("extraction consumer: running job", "error", err,
			"request_id", evt.RequestID, "user_id", evt.UserID)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("extraction consumer: job done",
		"request_id", evt.RequestID,
		"user_id", evt.UserID,
		"skipped", res.Skipped,
		"saved", res.Saved,
	)
}

func jobFromEvent(evt inats.ExtractionRequested) (ExtractionJob, error) {
	job := ExtractionJob{
		UserID:         evt.UserID,
		Plan:           plans.Parse(evt.Plan),
		ConversationID: evt.ConversationID,
		Force:          evt.Force,
	}
	if len(evt.Turns) > 0 {
		if err := json.Unmarshal(evt.Turns, &job.Turns); err != nil {
			return job, fmt.Errorf("decoding turns: %w", err)
		}
	}
	return job, nil
}

// InvalidationSubscriber drops local cache entries when a peer instance broadcasts a change.
type InvalidationSubscriber struct {
	svc    *Service
	origin string
	sub    *nats.Subscription
}

// NewInvalidationSubscriber creates a subscriber. Messages carrying origin are ignored.
func NewInvalidationSubscriber(svc *Service, origin string) *InvalidationSubscriber {
	return &InvalidationSubscriber{svc: svc, origin: origin}
}

// Subscribe registers the handler on the core NATS connection.
func (s *InvalidationSubscriber) Subscribe(conn *nats.Conn) error {
	sub, err := conn.Subscribe(inats.SubjectCacheInvalidate, func(m *nats.Msg) {
		s.handle(context.Background(), m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", inats.SubjectCacheInvalidate, err)
	}
	s.sub = sub
	return nil
}

// Close removes the subscription.
func (s *InvalidationSubscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *InvalidationSubscriber) handle(ctx context.Context, data []byte) {
	var evt inats.CacheInvalidated
	if err := json.Unmarshal(data, &evt); err != nil || evt.UserID == "" {
		slog.Warn("memory: ignoring malformed invalidation", "error", err)
		return
	}
	if evt.Origin != "" && evt.Origin == s.origin {
		return
	}
	s.svc.InvalidateLocal(ctx, evt.UserID)
}
