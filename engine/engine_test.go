package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/scrapeflow/models"
	"github.com/use-agent/scrapeflow/profile"
)

type fakeEngine struct {
	name  string
	delay time.Duration
	calls atomic.Int32
	fn    func(req *FetchRequest) (*FetchResult, error)
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	res, err := f.fn(req)
	if res != nil {
		res.EngineName = f.name
	}
	return res, err
}

func ok(html string) func(*FetchRequest) (*FetchResult, error) {
	return func(req *FetchRequest) (*FetchResult, error) {
		return &FetchResult{HTML: html, StatusCode: 200, FinalURL: req.URL}, nil
	}
}

func fail(err error) func(*FetchRequest) (*FetchResult, error) {
	return func(*FetchRequest) (*FetchResult, error) { return nil, err }
}

func TestDispatcher_FirstSuccessWins(t *testing.T) {
	fast := &fakeEngine{name: "http", fn: ok("fast")}
	slow := &fakeEngine{name: "rod", delay: 200 * time.Millisecond, fn: ok("slow")}
	d := NewDispatcher([]Engine{fast, slow}, []time.Duration{0, 0}, NewDomainMemory(time.Minute))

	res, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://a.example/x", PreferHTTP: true})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.HTML)
	assert.Equal(t, "http", res.EngineName)
}

func TestDispatcher_EscalatesOnFailure(t *testing.T) {
	httpEng := &fakeEngine{name: "http", fn: fail(StatusError("http", 503))}
	rod := &fakeEngine{name: "rod", fn: ok("rendered")}
	d := NewDispatcher([]Engine{httpEng, rod}, []time.Duration{0, 10 * time.Millisecond}, nil)

	res, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://a.example", PreferHTTP: true})
	require.NoError(t, err)
	assert.Equal(t, "rod", res.EngineName)
}

func TestDispatcher_SkipsHTTPWithoutPreference(t *testing.T) {
	httpEng := &fakeEngine{name: "http", fn: ok("plain")}
	rod := &fakeEngine{name: "rod", fn: ok("rendered")}
	d := NewDispatcher([]Engine{httpEng, rod}, []time.Duration{0, time.Second}, nil)

	start := time.Now()
	res, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://a.example"})
	require.NoError(t, err)
	assert.Equal(t, "rod", res.EngineName)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "first selected engine starts immediately")
	assert.Zero(t, httpEng.calls.Load())
}

func TestDispatcher_NeedsRenderPrefersBrowser(t *testing.T) {
	httpEng := &fakeEngine{name: "http", fn: func(req *FetchRequest) (*FetchResult, error) {
		return &FetchResult{HTML: "shell", NeedsRender: true}, nil
	}}
	rod := &fakeEngine{name: "rod", delay: 20 * time.Millisecond, fn: ok("rendered")}
	d := NewDispatcher([]Engine{httpEng, rod}, nil, nil)

	res, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://a.example", PreferHTTP: true})
	require.NoError(t, err)
	assert.Equal(t, "rendered", res.HTML)
}

func TestDispatcher_NeedsRenderFallback(t *testing.T) {
	httpEng := &fakeEngine{name: "http", fn: func(req *FetchRequest) (*FetchResult, error) {
		return &FetchResult{HTML: "shell", NeedsRender: true}, nil
	}}
	rod := &fakeEngine{name: "rod", delay: 10 * time.Millisecond, fn: fail(errors.New("crash"))}
	d := NewDispatcher([]Engine{httpEng, rod}, nil, nil)

	res, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://a.example", PreferHTTP: true})
	require.NoError(t, err)
	assert.Equal(t, "shell", res.HTML)
}

func TestDispatcher_AllFailPrefersTransient(t *testing.T) {
	httpEng := &fakeEngine{name: "http", fn: fail(StatusError("http", 404))}
	rod := &fakeEngine{name: "rod", delay: 5 * time.Millisecond, fn: fail(Classify("rod", context.DeadlineExceeded))}
	d := NewDispatcher([]Engine{httpEng, rod}, nil, nil)

	_, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://a.example", PreferHTTP: true})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Permanent())
}

func TestDispatcher_AllPermanent(t *testing.T) {
	a := &fakeEngine{name: "http", fn: fail(StatusError("http", 404))}
	b := &fakeEngine{name: "rod", fn: fail(StatusError("rod", 404))}
	d := NewDispatcher([]Engine{a, b}, nil, nil)

	_, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://a.example", PreferHTTP: true})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Permanent())
	assert.Equal(t, 404, fe.StatusCode)
}

func TestDispatcher_DomainMemory(t *testing.T) {
	mem := NewDomainMemory(time.Minute)
	httpEng := &fakeEngine{name: "http", fn: fail(StatusError("http", 503))}
	rod := &fakeEngine{name: "rod", delay: 20 * time.Millisecond, fn: ok("rendered")}
	d := NewDispatcher([]Engine{httpEng, rod}, nil, mem)

	req := &FetchRequest{URL: "https://mem.example/a", PreferHTTP: true}
	_, err := d.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "rod", mem.Get("mem.example"))

	httpCalls := httpEng.calls.Load()
	_, err = d.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, httpCalls, httpEng.calls.Load(), "remembered engine is used directly")
}

func TestDispatcher_NoEngines(t *testing.T) {
	_, err := NewDispatcher(nil, nil, nil).Fetch(context.Background(), &FetchRequest{URL: "https://x"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Permanent())
}

func TestStatusError(t *testing.T) {
	for code, perm := range map[int]bool{400: true, 401: true, 403: true, 404: true, 410: true,
		408: false, 429: false, 500: false, 502: false, 503: false} {
		assert.Equal(t, perm, StatusError("http", code).Permanent(), "status %d", code)
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify("x", nil))
	assert.False(t, Classify("x", context.DeadlineExceeded).Permanent())
	assert.True(t, Classify("x", context.DeadlineExceeded).Timeout())
	assert.True(t, Classify("x", errors.New("page load error net::ERR_NAME_NOT_RESOLVED")).Permanent())
	assert.False(t, Classify("x", errors.New("connection reset by peer")).Permanent())

	orig := StatusError("http", 404)
	assert.Same(t, orig, Classify("rod", fmt.Errorf("wrapped: %w", orig)))
}

func TestRodEngine_ForceStealthAndName(t *testing.T) {
	var gotStealth bool
	e := NewRodEngine(func(_ context.Context, req *FetchRequest) (*FetchResult, error) {
		gotStealth = req.Stealth
		return &FetchResult{HTML: "<html></html>"}, nil
	}, true)

	req := &FetchRequest{URL: "https://a.example"}
	res, err := e.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, gotStealth)
	assert.False(t, req.Stealth, "caller's request is not mutated")
	assert.Equal(t, "rod-stealth", res.EngineName)
}

func TestRodEngine_WrapsErrors(t *testing.T) {
	e := NewRodEngine(func(context.Context, *FetchRequest) (*FetchResult, error) {
		return nil, context.DeadlineExceeded
	}, false)
	_, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://a.example"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "rod", fe.Engine)
	assert.False(t, fe.Permanent())
}

func TestHTTPEngine_Fetch(t *testing.T) {
	body := "<html><head><title> Hello </title></head><body><p>" + strings.Repeat("content ", 60) + "</p></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Chrome")
		assert.Equal(t, "v", r.Header.Get("X-Custom"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	e := NewHTTPEngine()
	res, err := e.Fetch(context.Background(), &FetchRequest{URL: srv.URL, Headers: map[string]string{"X-Custom": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Title)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "http", res.EngineName)
	assert.False(t, res.NeedsRender)
}

func TestHTTPEngine_StatusClassification(t *testing.T) {
	for code, perm := range map[int]bool{404: true, 503: false, 429: false} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		_, err := NewHTTPEngine().Fetch(context.Background(), &FetchRequest{URL: srv.URL})
		srv.Close()

		var fe *FetchError
		require.ErrorAs(t, err, &fe, "status %d", code)
		assert.Equal(t, perm, fe.Permanent(), "status %d", code)
		assert.Equal(t, code, fe.StatusCode)
	}
}

func TestHTTPEngine_NonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	_, err := NewHTTPEngine().Fetch(context.Background(), &FetchRequest{URL: srv.URL})
	assert.ErrorIs(t, err, ErrNotHTML)
}

func TestHTTPEngine_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewHTTPEngine().Fetch(context.Background(), &FetchRequest{URL: srv.URL, Timeout: 20 * time.Millisecond})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Permanent())
}

func TestNeedsBrowser(t *testing.T) {
	assert.True(t, needsBrowser([]byte(`<html><body><div id="root"></div></body></html>`)))
	rich := "<html><body><article>" + strings.Repeat("Plenty of server rendered text. ", 20) + "</article></body></html>"
	assert.False(t, needsBrowser([]byte(rich)))
	noscript := "<html><body><noscript>Please enable JavaScript</noscript>" + strings.Repeat("text ", 100) + "</body></html>"
	assert.True(t, needsBrowser([]byte(noscript)))
}

func TestNewFetchRequest(t *testing.T) {
	p := profile.Resolve(models.TierFast)
	req := NewFetchRequest("https://a.example", p)
	assert.Equal(t, p.Timeout, req.Timeout)
	assert.Equal(t, profile.WaitLoad, req.Wait)
	assert.True(t, req.RemoveOverlays)
	assert.True(t, req.PreferHTTP)
	assert.Equal(t, p.BlockResources, req.BlockResources)
}

func TestDomainMemory(t *testing.T) {
	m := NewDomainMemory(time.Minute)
	assert.Equal(t, "", m.Get("a.com"))
	m.Set("a.com", "rod")
	assert.Equal(t, "rod", m.Get("a.com"))
	m.Delete("a.com")
	assert.Equal(t, "", m.Get("a.com"))

	var nilMem *DomainMemory
	assert.Equal(t, "", nilMem.Get("a.com"))
	nilMem.Set("a.com", "rod")
}
