// Package sink delivers extracted records to their consumers.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/emilyzhang/scrapr/extract"
)

// Emission is one page's worth of extracted data.
type Emission struct {
	Resource  string         `json:"resource" yaml:"resource"`
	URL       string         `json:"url" yaml:"url"`
	WalkID    string         `json:"walk_id" yaml:"walk_id"`
	Page      int            `json:"page" yaml:"page"`
	FetchedAt time.Time      `json:"fetched_at" yaml:"fetched_at"`
	Record    extract.Record `json:"record" yaml:"record"`
}

// Sink receives emissions. Implementations must be safe for concurrent use
// since walks for different resources emit concurrently.
type Sink interface {
	Emit(ctx context.Context, e Emission) error
	Close() error
}

// Config selects and configures sinks.
type Config struct {
	// Format of the writer sink: json, jsonl or yaml. Empty disables it.
	Format string `mapstructure:"format"`
	// Output is a file path for the writer sink; empty or "-" means stdout.
	Output string     `mapstructure:"output"`
	NATS   NATSConfig `mapstructure:"nats"`
}

// Multi fans emissions out to several sinks.
type Multi []Sink

// Emit sends e to every sink and joins their errors.
func (m Multi) Emit(ctx context.Context, e Emission) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every emission.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(context.Context, Emission) error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }

// New builds the sinks enabled in cfg. With nothing enabled every emission
// is discarded.
func New(cfg Config) (Sink, error) {
	var sinks Multi
	if cfg.Format != "" {
		w, err := OpenWriter(cfg.Output, Format(cfg.Format))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
	}
	if cfg.NATS.URL != "" {
		n, err := DialNATS(cfg.NATS)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, n)
	}

	switch len(sinks) {
	case 0:
		return Discard{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
