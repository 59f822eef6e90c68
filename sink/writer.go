package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Format is a writer output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Writer streams emissions to an io.Writer, one document per emission.
type Writer struct {
	mu     sync.Mutex
	format Format
	w      *bufio.Writer
	closer io.Closer
}

// NewWriter creates a writer sink for the given format.
func NewWriter(w io.Writer, format Format) (*Writer, error) {
	switch format {
	case FormatJSON, FormatJSONL, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return &Writer{format: format, w: bufio.NewWriter(w)}, nil
}

// OpenWriter creates a writer sink on stdout or an appended file.
func OpenWriter(path string, format Format) (*Writer, error) {
	if path == "" || path == "-" {
		return NewWriter(os.Stdout, format)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unable to open output %s: %w", path, err)
	}
	w, err := NewWriter(f, format)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Emit writes e and flushes it.
func (w *Writer) Emit(_ context.Context, e Emission) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		err = enc.Encode(e)
	case FormatJSONL:
		err = json.NewEncoder(w.w).Encode(e)
	case FormatYAML:
		if _, err = w.w.WriteString("---\n"); err != nil {
			break
		}
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err = enc.Encode(e); err == nil {
			err = enc.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("unable to write emission for %s: %w", e.Resource, err)
	}
	return w.w.Flush()
}

// Close flushes buffered output and closes the file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
