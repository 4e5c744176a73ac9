package events

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
)

type PublishArgs struct {
	Event Event `json:"event"`
}

func (PublishArgs) Kind() string { return "publish_event" }

// PublishWorker hands enqueued events to the publisher. A publish error is returned so river retries it.
type PublishWorker struct {
	river.WorkerDefaults[PublishArgs]
	publisher Publisher
}

func NewPublishWorker(p Publisher) *PublishWorker {
	return &PublishWorker{publisher: p}
}

func (w *PublishWorker) Work(ctx context.Context, job *river.Job[PublishArgs]) error {
	if err := w.publisher.Publish(ctx, job.Args.Event); err != nil {
		return fmt.Errorf("publish event %s: %w", job.Args.Event.ID, err)
	}
	return nil
}
