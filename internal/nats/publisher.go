package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing memory events.
type Publisher struct {
	js     jetstream.JetStream
	conn   *nats.Conn
	origin string
}

// NewPublisher creates a new Publisher. origin identifies this instance on broadcast messages.
func NewPublisher(js jetstream.JetStream, conn *nats.Conn, origin string) *Publisher {
	return &Publisher{js: js, conn: conn, origin: origin}
}

// PublishExtractionRequested queues an extraction job on the memory stream.
func (p *Publisher) PublishExtractionRequested(ctx context.Context, evt ExtractionRequested) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", SubjectExtractionRequest, err)
	}
	_, err = p.js.Publish(ctx, SubjectExtractionRequest, payload, jetstream.WithMsgID(evt.RequestID))
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", SubjectExtractionRequest, err)
	}
	return nil
}

// PublishInvalidation broadcasts that userID's cached context is stale.
func (p *Publisher) PublishInvalidation(_ context.Context, userID string) error {
	payload, err := json.Marshal(CacheInvalidated{UserID: userID, Origin: p.origin})
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", SubjectCacheInvalidate, err)
	}
	if err := p.conn.Publish(SubjectCacheInvalidate, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", SubjectCacheInvalidate, err)
	}
	return nil
}
