package crawler

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/emilyzhang/scrapr/config"
	"github.com/emilyzhang/scrapr/crawlerdb"
	"github.com/emilyzhang/scrapr/extract"
	"github.com/emilyzhang/scrapr/logger"
	"github.com/emilyzhang/scrapr/sink"
)

// fakeFetcher serves pages from memory and remembers what was asked for.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
	before  func(url string)
}

func (f *fakeFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	if f.before != nil {
		f.before(target)
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, target)
	body, ok := f.pages[target]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if !ok {
		return nil, &FetchError{URL: target, StatusCode: 404, Err: errors.New("Not Found")}
	}
	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(target)
	return &Page{URL: u, Doc: doc, StatusCode: 200, FetchedAt: time.Now()}, nil
}

func (f *fakeFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type memorySink struct {
	mu        sync.Mutex
	emissions []sink.Emission
}

func (s *memorySink) Emit(_ context.Context, e sink.Emission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emissions = append(s.emissions, e)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emissions)
}

type failingSink struct{}

func (failingSink) Emit(context.Context, sink.Emission) error { return errors.New("sink down") }
func (failingSink) Close() error                              { return nil }

type brokenStore struct{}

func (brokenStore) Record(_ context.Context, u string) (crawlerdb.Outcome, error) {
	return 0, &crawlerdb.StorageError{Op: "record", URL: u, Err: errors.New("disk full")}
}

func page(title, next string) string {
	s := "<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1>"
	if next != "" {
		s += `<a rel="next" href="` + next + `">next</a>`
	}
	return s + "</body></html>"
}

func paged(name, seed string) config.Resource {
	return config.Resource{
		Name:   name,
		URL:    seed,
		Period: time.Minute,
		Targets: extract.Targets{
			"Title": {Name: "Title", Path: extract.MustCompilePath("//h1"), Extract: extract.Text{}},
		},
		Continuation: &extract.Continuation{Ref: extract.MustCompilePath("//a[@rel='next']/@href")},
	}
}

func openStore(t *testing.T) *crawlerdb.DB {
	t.Helper()
	db, err := crawlerdb.Open(context.Background(), crawlerdb.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func titles(emissions []sink.Emission) []string {
	var out []string
	for _, e := range emissions {
		out = append(out, e.Record.Values("Title")...)
	}
	return out
}

func TestWalk(t *testing.T) {
	ctx := context.Background()

	t.Run("follows continuations until the chain ends", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/p1": page("one", "/p2"),
			"http://shop.example/p2": page("two", "p3#top"),
			"http://shop.example/p3": page("three", ""),
		}}
		out := &memorySink{}

		res := New(store, fetcher, out, nil).Walk(ctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndNoContinuation, res.End)
		assert.NoError(tt, res.Err)
		assert.Equal(tt, 3, res.Pages)
		assert.Equal(tt, 3, res.Emitted)
		assert.NotEmpty(tt, res.WalkID)
		assert.Equal(tt, []string{"one", "two", "three"}, titles(out.emissions))
		for i, e := range out.emissions {
			assert.Equal(tt, "shop", e.Resource)
			assert.Equal(tt, res.WalkID, e.WalkID)
			assert.Equal(tt, i+1, e.Page)
		}

		for _, u := range []string{"http://shop.example/p1", "http://shop.example/p2", "http://shop.example/p3"} {
			_, err := store.GetResource(ctx, u)
			assert.NoError(tt, err, u)
		}
	})

	t.Run("stops at a page that was seen before", func(tt *testing.T) {
		store := openStore(tt)
		_, err := store.Record(ctx, "http://shop.example/p2")
		require.NoError(tt, err)
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/p1": page("one", "/p2"),
			"http://shop.example/p2": page("two", ""),
		}}
		out := &memorySink{}

		res := New(store, fetcher, out, nil).Walk(ctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndDuplicate, res.End)
		assert.NoError(tt, res.Err)
		assert.Equal(tt, []string{"http://shop.example/p1"}, fetcher.Fetched())
		assert.Equal(tt, []string{"one"}, titles(out.emissions))
	})

	t.Run("a cycle terminates", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/a": page("a", "/b"),
			"http://shop.example/b": page("b", "/a"),
		}}

		res := New(store, fetcher, nil, nil).Walk(ctx, paged("loop", "http://shop.example/a"))

		assert.Equal(tt, EndDuplicate, res.End)
		assert.Equal(tt, 2, res.Pages)
		assert.Equal(tt, []string{"http://shop.example/a", "http://shop.example/b"}, fetcher.Fetched())
	})

	t.Run("a second walk of a visited seed does nothing", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{"http://shop.example/p1": page("one", "")}}
		c := New(store, fetcher, nil, nil)

		first := c.Walk(ctx, paged("shop", "http://shop.example/p1"))
		second := c.Walk(ctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndNoContinuation, first.End)
		assert.Equal(tt, EndDuplicate, second.End)
		assert.Equal(tt, 0, second.Pages)
		assert.Len(tt, fetcher.Fetched(), 1)
		assert.NotEqual(tt, first.WalkID, second.WalkID)
	})

	t.Run("without continuation only the seed is walked", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{"http://shop.example/p1": page("one", "/p2")}}
		r := paged("shop", "http://shop.example/p1")
		r.Continuation = nil

		res := New(store, fetcher, nil, nil).Walk(ctx, r)

		assert.Equal(tt, EndSinglePage, res.End)
		assert.Equal(tt, 1, res.Pages)
	})

	t.Run("without targets nothing is emitted", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/p1": page("one", "/p2"),
			"http://shop.example/p2": page("two", ""),
		}}
		out := &memorySink{}
		r := paged("shop", "http://shop.example/p1")
		r.Targets = nil

		res := New(store, fetcher, out, nil).Walk(ctx, r)

		assert.Equal(tt, 2, res.Pages)
		assert.Equal(tt, 0, res.Emitted)
		assert.Zero(tt, out.Len())
	})

	t.Run("records are emitted before the next fetch", func(tt *testing.T) {
		store := openStore(tt)
		out := &memorySink{}
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/p1": page("one", "/p2"),
			"http://shop.example/p2": page("two", "/p3"),
			"http://shop.example/p3": page("three", ""),
		}}
		var seen []int
		fetcher.before = func(string) { seen = append(seen, out.Len()) }

		New(store, fetcher, out, nil).Walk(ctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, []int{0, 1, 2}, seen)
	})

	t.Run("fetch failure aborts the walk", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{"http://shop.example/p1": page("one", "/missing")}}

		res := New(store, fetcher, nil, nil).Walk(ctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndFetchFailed, res.End)
		var fe *FetchError
		require.ErrorAs(tt, res.Err, &fe)
		assert.Equal(tt, 404, fe.StatusCode)
		assert.True(tt, res.IsAbort())

		// the failed page was recorded before the fetch and stays visited
		_, err := store.GetResource(ctx, "http://shop.example/missing")
		assert.NoError(tt, err)
	})

	t.Run("storage failure aborts the walk", func(tt *testing.T) {
		fetcher := &fakeFetcher{pages: map[string]string{"http://shop.example/p1": page("one", "")}}

		res := New(brokenStore{}, fetcher, nil, nil).Walk(ctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndStorageFailed, res.End)
		var se *crawlerdb.StorageError
		assert.ErrorAs(tt, res.Err, &se)
		assert.Empty(tt, fetcher.Fetched())
	})

	t.Run("emit failures do not stop the walk", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/p1": page("one", "/p2"),
			"http://shop.example/p2": page("two", ""),
		}}

		res := New(store, fetcher, failingSink{}, nil).Walk(ctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndNoContinuation, res.End)
		assert.Equal(tt, 2, res.Pages)
		assert.Equal(tt, 0, res.Emitted)
	})

	t.Run("a cancelled context stops before the first page", func(tt *testing.T) {
		store := openStore(tt)
		fetcher := &fakeFetcher{pages: map[string]string{"http://shop.example/p1": page("one", "")}}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		res := New(store, fetcher, nil, nil).Walk(cctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndCancelled, res.End)
		assert.False(tt, res.IsAbort())
		assert.Empty(tt, fetcher.Fetched())
		_, err := store.GetResource(ctx, "http://shop.example/p1")
		assert.ErrorIs(tt, err, crawlerdb.ErrDoesNotExist)
	})

	t.Run("cancellation during a fetch ends the walk as cancelled", func(tt *testing.T) {
		store := openStore(tt)
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/p1": page("one", "/p2"),
			"http://shop.example/p2": page("two", ""),
		}}
		fetcher.before = func(string) { cancel() }
		out := &memorySink{}

		res := New(store, fetcher, out, nil).Walk(cctx, paged("shop", "http://shop.example/p1"))

		assert.Equal(tt, EndCancelled, res.End)
		assert.Equal(tt, []string{"http://shop.example/p1"}, fetcher.Fetched())
		assert.Zero(tt, out.Len())
	})

	t.Run("two product pages emit one record each", func(tt *testing.T) {
		store := openStore(tt)
		list := func(a, b, next string) string {
			s := `<html><body><ul>
				<li><span class="name">` + a + `</span><span class="price">10</span></li>
				<li><span class="name">` + b + `</span><span class="price">20</span></li>
			</ul>`
			if next != "" {
				s += `<a rel="next" href="` + next + `">next</a>`
			}
			return s + "</body></html>"
		}
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/p1": list("Kettle", "Toaster", "/p2"),
			"http://shop.example/p2": list("Teapot", "Mug", ""),
		}}
		out := &memorySink{}
		r := config.Resource{
			Name:   "products",
			URL:    "http://shop.example/p1",
			Period: time.Minute,
			Targets: extract.Targets{
				"Product": {
					Name: "Product",
					Path: extract.MustCompilePath("//li"),
					Then: extract.Targets{
						"Name":  {Name: "Name", Path: extract.MustCompilePath("./span[@class='name']"), Extract: extract.Text{}},
						"Price": {Name: "Price", Path: extract.MustCompilePath("./span[@class='price']"), Extract: extract.Text{}},
					},
				},
			},
			Continuation: &extract.Continuation{Ref: extract.MustCompilePath("//a[@rel='next']/@href")},
		}

		res := New(store, fetcher, out, nil).Walk(ctx, r)

		assert.Equal(tt, EndNoContinuation, res.End)
		assert.Equal(tt, 2, res.Pages)
		require.Len(tt, out.emissions, 2)
		want := [][]string{{"Kettle", "Toaster"}, {"Teapot", "Mug"}}
		for i, e := range out.emissions {
			products := e.Record.Groups("Product")
			require.Len(tt, products, 2)
			for j, p := range products {
				assert.Equal(tt, []string{want[i][j]}, p.Values("Name"))
				assert.Equal(tt, []string{[]string{"10", "20"}[j]}, p.Values("Price"))
			}
		}
		assert.Equal(tt, "http://shop.example/p2", out.emissions[1].URL)
		assert.Equal(tt, []string{"http://shop.example/p1", "http://shop.example/p2"}, fetcher.Fetched())
	})

	t.Run("continuation path errors end the walk and are logged once", func(tt *testing.T) {
		store := openStore(tt)
		core, logs := observer.New(zapcore.DebugLevel)
		fetcher := &fakeFetcher{pages: map[string]string{
			"http://shop.example/a": page("a", ""),
			"http://shop.example/b": page("b", ""),
		}}
		c := New(store, fetcher, nil, logger.NewFromZap(zap.New(core)))
		broken := &extract.Continuation{Ref: extract.MustCompilePath("substring(//h1, 'x')")}

		for _, seed := range []string{"http://shop.example/a", "http://shop.example/b"} {
			r := paged("broken", seed)
			r.Continuation = broken
			res := c.Walk(ctx, r)
			assert.Equal(tt, EndNoContinuation, res.End)
			assert.NoError(tt, res.Err)
		}
		assert.Equal(tt, 1, logs.FilterMessage("Target path failed to evaluate").Len())
	})

	t.Run("local files are walked as a single page", func(tt *testing.T) {
		path := filepath.Join(tt.TempDir(), "index.html")
		require.NoError(tt, os.WriteFile(path, []byte(page("local", "/other.html")), 0o600))
		seed := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
		out := &memorySink{}
		c := New(openStore(tt), NewSchemes(&fakeFetcher{}), out, nil)

		res := c.Walk(ctx, paged("local", seed))

		assert.Equal(tt, EndNoContinuation, res.End)
		assert.NoError(tt, res.Err)
		assert.Equal(tt, 1, res.Pages)
		assert.Equal(tt, []string{"local"}, titles(out.emissions))
		assert.Equal(tt, seed, out.emissions[0].URL)
	})

	t.Run("invalid seed", func(tt *testing.T) {
		res := New(openStore(tt), &fakeFetcher{}, nil, nil).Walk(ctx, paged("bad", "mailto:someone@example.com"))
		assert.Equal(tt, EndFetchFailed, res.End)
		assert.Error(tt, res.Err)
	})
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://example.com/a#frag", want: "http://example.com/a"},
		{in: "https://example.com/?q=1", want: "https://example.com/?q=1"},
		{in: "file:///srv/pages/index.html#top", want: "file:///srv/pages/index.html"},
		{in: "file://remote.example/share/index.html", wantErr: true},
		{in: "ftp://example.com/", wantErr: true},
		{in: "/relative", wantErr: true},
		{in: "http://%zz", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(tt *testing.T) {
			got, err := normalizeURL(tc.in)
			if tc.wantErr {
				assert.Error(tt, err)
				return
			}
			require.NoError(tt, err)
			assert.Equal(tt, tc.want, got)
		})
	}
}
