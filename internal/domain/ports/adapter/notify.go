package adapter

import (
	"context"

	"docqa-engine/internal/domain/model"
)

// JobNotifier publishes job status changes. Delivery is best effort;
// callers log errors and carry on.
type JobNotifier interface {
	NotifyJobUpdated(ctx context.Context, ev model.JobEvent) error
}

// Tracer receives a record of every model call.
type Tracer interface {
	Record(t model.ModelTrace)
}
