package notify

import (
	"context"
	"errors"

	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
)

// Multi delivers every event to all sinks and joins their errors.
type Multi []adapter.JobNotifier

func NewMulti(sinks ...adapter.JobNotifier) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) NotifyJobUpdated(ctx context.Context, ev model.JobEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.NotifyJobUpdated(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
