package export

import (
	"context"
	"errors"
	"io"

	"github.com/feedpilot/feedpilot/internal/session"
)

// Multi fans records out to several sinks. Every sink sees every record even
// when an earlier one fails.
type Multi []session.Sink

// Record implements session.Sink.
func (m Multi) Record(ctx context.Context, record session.Record) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every sink that supports it.
func (m Multi) Flush() error {
	var errs []error
	for _, sink := range m {
		if flusher, ok := sink.(session.Flusher); ok {
			if err := flusher.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that supports it.
func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if closer, ok := sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
