package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/metrics"
	inats "github.com/PQContinuum/PQ-Frontend-sub000/internal/nats"
)

// Dispatcher hands an extraction job to whatever runs it outside the request.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID string, job ExtractionJob) error
}

// JobPublisher is satisfied by *nats.Publisher.
type JobPublisher interface {
	PublishExtractionRequested(ctx context.Context, evt inats.ExtractionRequested) error
}

// QueueDispatcher publishes jobs to the memory stream for ExtractionConsumer.
type QueueDispatcher struct {
	pub JobPublisher
	now func() time.Time
}

func NewQueueDispatcher(pub JobPublisher) *QueueDispatcher {
	return &QueueDispatcher{pub: pub, now: time.Now}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, requestID string, job ExtractionJob) error {
	evt := inats.ExtractionRequested{
		RequestID:      requestID,
		UserID:         job.UserID,
		Plan:           string(job.Plan),
		ConversationID: job.ConversationID,
		Force:          job.Force,
		RequestedAt:    d.now().UTC(),
	}
	if len(job.Turns) > 0 {
		raw, err := json.Marshal(job.Turns)
		if err != nil {
			return fmt.Errorf("marshaling turns: %w", err)
		}
		evt.Turns = raw
	}
	if err := d.pub.PublishExtractionRequested(ctx, evt); err != nil {
		return err
	}
	metrics.ExtractionJobsQueued.WithLabelValues("nats").Inc()
	return nil
}

// LocalDispatcher runs jobs on detached goroutines of this process.
type LocalDispatcher struct {
	runner *ExtractionRunner
	wg     sync.WaitGroup
}

func NewLocalDispatcher(runner *ExtractionRunner) *LocalDispatcher {
	return &LocalDispatcher{runner: runner}
}

// Dispatch never fails; the job outlives the request context but keeps its values.
func (d *LocalDispatcher) Dispatch(ctx context.Context, requestID string, job ExtractionJob) error {
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	metrics.ExtractionJobsQueued.WithLabelValues("local").Inc()
	go func() {
		defer d.wg.Done()
		if _, err := d.runner.Run(bg, job); err != nil {
			slog.Warn("memory: background extraction failed", "error", err,
				"request_id", requestID, "user_id", job.UserID)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
