package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/feeddigest/internal/catalogue"
)

const testFeed = `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title></channel></rss>`

func src(id, u string) catalogue.Source {
	return catalogue.Source{ID: id, Title: id, URL: u}
}

func TestFetchAll_Outcomes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		fmt.Fprint(w, testFeed)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/badtype", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/;;;")
		fmt.Fprint(w, testFeed)
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "png")
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Options{Timeout: 200 * time.Millisecond})
	sources := []catalogue.Source{
		src("ok", srv.URL+"/ok"),
		src("missing", srv.URL+"/missing"),
		src("slow", srv.URL+"/slow"),
		src("badtype", srv.URL+"/badtype"),
		src("image", srv.URL+"/image"),
		src("empty", srv.URL+"/empty"),
	}

	payloads := f.FetchAll(context.Background(), sources)
	if len(payloads) != len(sources) {
		t.Fatalf("payloads = %d, want %d", len(payloads), len(sources))
	}

	for i, p := range payloads {
		if p.SourceID != sources[i].ID {
			t.Errorf("payloads[%d].SourceID = %q, want %q", i, p.SourceID, sources[i].ID)
		}
	}

	if !payloads[0].OK() {
		t.Fatalf("ok: unexpected error %v", payloads[0].Err)
	}
	if string(payloads[0].Body) != testFeed {
		t.Errorf("ok body = %q", payloads[0].Body)
	}
	if !strings.HasPrefix(payloads[0].ContentType, "application/rss+xml") {
		t.Errorf("content type = %q", payloads[0].ContentType)
	}

	wantKinds := map[string]Kind{
		"missing": KindStatus,
		"slow":    KindTimeout,
		"badtype": KindContentType,
		"image":   KindContentType,
		"empty":   KindBody,
	}
	for _, p := range payloads[1:] {
		if p.OK() {
			t.Errorf("%s: expected failure", p.SourceID)
			continue
		}
		if p.Err.Kind != wantKinds[p.SourceID] {
			t.Errorf("%s: kind = %q, want %q (%v)", p.SourceID, p.Err.Kind, wantKinds[p.SourceID], p.Err)
		}
	}
	if payloads[1].Err.StatusCode != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", payloads[1].Err.StatusCode)
	}
}

func TestFetchAll_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Options{Timeout: time.Second})
	payloads := f.FetchAll(context.Background(), []catalogue.Source{src("gone", addr+"/feed")})
	if payloads[0].OK() {
		t.Fatal("expected failure")
	}
	if payloads[0].Err.Kind != KindNetwork {
		t.Errorf("kind = %q, want network", payloads[0].Err.Kind)
	}
}

func TestFetchAll_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		fmt.Fprint(w, testFeed)
	})

	// Distinct hosts so every source gets its own job.
	var servers []*httptest.Server
	var sources []catalogue.Source
	for i := range 8 {
		s := httptest.NewServer(handler)
		servers = append(servers, s)
		sources = append(sources, src(fmt.Sprintf("s%d", i), s.URL))
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	f := New(Options{Concurrency: 3})
	payloads := f.FetchAll(context.Background(), sources)
	for _, p := range payloads {
		if !p.OK() {
			t.Fatalf("%s: %v", p.SourceID, p.Err)
		}
	}
	if got := atomic.LoadInt32(&peak); got > 3 {
		t.Errorf("peak in-flight = %d, want <= 3", got)
	}
}

func TestFetchAll_SameHostSerialized(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		fmt.Fprint(w, testFeed)
	}))
	defer srv.Close()

	f := New(Options{Concurrency: 4})
	payloads := f.FetchAll(context.Background(), []catalogue.Source{
		src("a", srv.URL+"/a"),
		src("b", srv.URL+"/b"),
		src("c", srv.URL+"/c"),
	})
	for _, p := range payloads {
		if !p.OK() {
			t.Fatalf("%s: %v", p.SourceID, p.Err)
		}
	}
	if overlap {
		t.Error("same-host requests overlapped")
	}
}

func TestFetchAll_RunTimeoutBoundsSameHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
			fmt.Fprint(w, testFeed)
		}
	}))
	defer srv.Close()

	var sources []catalogue.Source
	for i := range 6 {
		sources = append(sources, src(fmt.Sprintf("s%d", i), fmt.Sprintf("%s/%d", srv.URL, i)))
	}

	f := New(Options{Timeout: 200 * time.Millisecond, RunTimeout: 300 * time.Millisecond})
	start := time.Now()
	payloads := f.FetchAll(context.Background(), sources)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("FetchAll took %v, want it bounded by the run timeout", elapsed)
	}
	if len(payloads) != len(sources) {
		t.Fatalf("payloads = %d, want %d", len(payloads), len(sources))
	}
	for i, p := range payloads {
		if p.SourceID != sources[i].ID {
			t.Errorf("payloads[%d].SourceID = %q", i, p.SourceID)
		}
		if p.OK() || p.Err.Kind != KindTimeout {
			t.Errorf("%s: want timeout, got %+v", p.SourceID, p.Err)
		}
	}
}

func TestFetchAll_UserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		fmt.Fprint(w, testFeed)
	}))
	defer srv.Close()

	f := New(Options{UserAgent: "digest-test/1.0"})
	f.FetchAll(context.Background(), []catalogue.Source{src("a", srv.URL)})
	if got != "digest-test/1.0" {
		t.Errorf("user agent = %q", got)
	}
}

func TestFetchAll_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	f := New(Options{MaxBytes: 10})
	p := f.FetchAll(context.Background(), []catalogue.Source{src("big", srv.URL)})[0]
	if p.OK() || p.Err.Kind != KindBody {
		t.Fatalf("expected body error, got %+v", p.Err)
	}
}

func TestFetchAll_SingleAttemptByDefault(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Options{})
	p := f.FetchAll(context.Background(), []catalogue.Source{src("a", srv.URL)})[0]
	if p.OK() {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestFetchAll_Retry(t *testing.T) {
	old := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = old })

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, testFeed)
	}))
	defer srv.Close()

	f := New(Options{Retries: 2})
	p := f.FetchAll(context.Background(), []catalogue.Source{src("a", srv.URL)})[0]
	if !p.OK() {
		t.Fatalf("expected success after retry, got %v", p.Err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{&Error{Kind: KindTimeout}, true},
		{&Error{Kind: KindNetwork}, true},
		{&Error{Kind: KindStatus, StatusCode: 503}, true},
		{&Error{Kind: KindStatus, StatusCode: 429}, true},
		{&Error{Kind: KindStatus, StatusCode: 404}, false},
		{&Error{Kind: KindContentType}, false},
		{&Error{Kind: KindBody}, false},
	}
	for _, tt := range tests {
		if got := tt.err.Retryable(); got != tt.want {
			t.Errorf("%v retryable = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if k := classify(context.DeadlineExceeded).Kind; k != KindTimeout {
		t.Errorf("deadline kind = %q", k)
	}
	if k := classify(errors.New("boom")).Kind; k != KindNetwork {
		t.Errorf("generic kind = %q", k)
	}
	orig := &Error{Kind: KindStatus, StatusCode: 500}
	if got := classify(fmt.Errorf("wrapped: %w", orig)); got != orig {
		t.Errorf("classify should unwrap *Error")
	}
}

func TestCheckContentType(t *testing.T) {
	for _, ct := range []string{"", "application/rss+xml", "text/html; charset=iso-8859-1", "application/octet-stream"} {
		if err := checkContentType(ct); err != nil {
			t.Errorf("%q: unexpected error %v", ct, err)
		}
	}
	for _, ct := range []string{"video/mp4", "text/;;;"} {
		if err := checkContentType(ct); err == nil {
			t.Errorf("%q: expected error", ct)
		}
	}
}
