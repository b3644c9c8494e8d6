// ABOUTME: Publisher that forwards each event to several transports
// ABOUTME: A failing transport does not stop delivery to the others

package transport

import (
	"context"
	"errors"
)

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

// Publish delivers event to each publisher in order.
func (m Multi) Publish(ctx context.Context, event *Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes each publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = Multi(nil)
