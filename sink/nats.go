package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS sink. An empty URL disables it.
type NATSConfig struct {
	URL string `mapstructure:"url"`
	// Subject prefix; the resource name is appended as the last token.
	Subject string `mapstructure:"subject"`
}

// DefaultSubject is used when NATSConfig.Subject is empty.
const DefaultSubject = "scrapr.records"

// NATS publishes emissions as JSON messages.
type NATS struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// DialNATS connects to the server in cfg.
func DialNATS(cfg NATSConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("scrapr"))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats at %s: %w", cfg.URL, err)
	}
	s := NewNATS(nc, cfg.Subject)
	s.owned = true
	return s, nil
}

// NewNATS publishes on an existing connection. Close does not close nc.
func NewNATS(nc *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{nc: nc, subject: subject}
}

// Subject returns the subject emissions of resource are published on.
func (s *NATS) Subject(resource string) string {
	return s.subject + "." + subjectToken(resource)
}

// Emit implements Sink.
func (s *NATS) Emit(_ context.Context, e Emission) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("unable to encode emission for %s: %w", e.Resource, err)
	}
	if err := s.nc.Publish(s.Subject(e.Resource), data); err != nil {
		return fmt.Errorf("unable to publish emission for %s: %w", e.Resource, err)
	}
	return nil
}

// Close waits until the server has received every published emission and
// closes the connection when the sink opened it.
func (s *NATS) Close() error {
	err := s.nc.Flush()
	if s.owned {
		s.nc.Close()
	}
	if err != nil {
		return fmt.Errorf("unable to flush nats connection: %w", err)
	}
	return nil
}

// subjectToken makes a resource name usable as a single subject token.
func subjectToken(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, name)
}
