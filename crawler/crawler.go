// Package crawler walks a resource's chain of pages: every page is recorded
// in the dedup store, fetched, evaluated against the resource's targets and
// then followed to its continuation until a page repeats or the chain ends.
package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/emilyzhang/scrapr/config"
	"github.com/emilyzhang/scrapr/crawlerdb"
	"github.com/emilyzhang/scrapr/extract"
	"github.com/emilyzhang/scrapr/logger"
	"github.com/emilyzhang/scrapr/sink"
)

// Store records visited resources.
type Store interface {
	Record(ctx context.Context, url string) (crawlerdb.Outcome, error)
}

// End says why a walk stopped.
type End int

const (
	// EndSinglePage: the resource has no continuation rule.
	EndSinglePage End = iota
	// EndNoContinuation: the last page had no next page.
	EndNoContinuation
	// EndDuplicate: the next page had been visited before.
	EndDuplicate
	// EndCancelled: the walk's context was cancelled.
	EndCancelled
	// EndStorageFailed: the dedup store failed.
	EndStorageFailed
	// EndFetchFailed: a page could not be fetched.
	EndFetchFailed
)

func (e End) String() string {
	switch e {
	case EndSinglePage:
		return "single_page"
	case EndNoContinuation:
		return "no_continuation"
	case EndDuplicate:
		return "duplicate"
	case EndCancelled:
		return "cancelled"
	case EndStorageFailed:
		return "storage_failed"
	case EndFetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

// Result summarises a finished walk. Err is set when the walk was aborted.
type Result struct {
	WalkID  string
	Pages   int
	Emitted int
	End     End
	Err     error
}

// Crawler walks resources. One Crawler serves every resource; each walk is
// sequential and walks may run concurrently.
type Crawler struct {
	store     Store
	fetcher   Fetcher
	sink      sink.Sink
	evaluator *extract.Evaluator
	log       logger.Interface
}

// New creates a Crawler. A nil sink discards records.
func New(store Store, fetcher Fetcher, s sink.Sink, log logger.Interface) *Crawler {
	if log == nil {
		log = logger.NewNop()
	}
	if s == nil {
		s = sink.Discard{}
	}
	return &Crawler{
		store:     store,
		fetcher:   fetcher,
		sink:      s,
		evaluator: extract.NewEvaluator(log),
		log:       log,
	}
}

// Walk crawls res starting from its seed URL. Records of a page are emitted
// before the next page is fetched.
func (c *Crawler) Walk(ctx context.Context, res config.Resource) Result {
	result := Result{WalkID: uuid.NewString()}
	log := c.log.With("resource", res.Name, "walk_id", result.WalkID)
	start := time.Now()

	finish := func(end End, err error) Result {
		result.End, result.Err = end, err
		fields := []any{
			"pages", result.Pages, "emitted", result.Emitted,
			"end", end.String(), "duration", time.Since(start),
		}
		if err != nil && end != EndCancelled {
			log.Error("Walk aborted", append(fields, "error", err)...)
		} else {
			log.Info("Walk finished", fields...)
		}
		return result
	}

	current, err := normalizeURL(res.URL)
	if err != nil {
		return finish(EndFetchFailed, &FetchError{URL: res.URL, Err: err})
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(EndCancelled, err)
		}

		outcome, err := c.store.Record(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return finish(EndCancelled, ctx.Err())
			}
			return finish(EndStorageFailed, err)
		}
		if outcome == crawlerdb.AlreadyPresent {
			log.Debug("Resource already visited", "url", current)
			return finish(EndDuplicate, nil)
		}

		page, err := c.fetcher.Fetch(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return finish(EndCancelled, ctx.Err())
			}
			return finish(EndFetchFailed, err)
		}
		result.Pages++

		if res.Targets != nil {
			c.emit(ctx, log, res, &result, current, page)
		}

		if res.Continuation == nil {
			return finish(EndSinglePage, nil)
		}
		next, ok, err := c.evaluator.Resolve(res.Continuation, page.Doc, page.URL)
		if err != nil {
			log.Warn("Continuation failed to resolve", "url", current, "error", err)
			return finish(EndNoContinuation, nil)
		}
		if !ok {
			return finish(EndNoContinuation, nil)
		}
		log.Debug("Following continuation", "from", current, "to", next.String())
		current = next.String()
	}
}

func (c *Crawler) emit(ctx context.Context, log logger.Interface, res config.Resource, result *Result, url string, page *Page) {
	e := sink.Emission{
		Resource:  res.Name,
		URL:       url,
		WalkID:    result.WalkID,
		Page:      result.Pages,
		FetchedAt: page.FetchedAt,
		Record:    c.evaluator.Evaluate(res.Targets, page.Doc),
	}
	if err := c.sink.Emit(ctx, e); err != nil {
		log.Error("Failed to emit record", "url", url, "error", err)
		return
	}
	result.Emitted++
}

// IsAbort reports whether a walk ended on an error other than cancellation.
func (r Result) IsAbort() bool {
	return r.Err != nil && !errors.Is(r.Err, context.Canceled) && !errors.Is(r.Err, context.DeadlineExceeded)
}
