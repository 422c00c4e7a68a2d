package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
)

const (
	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// maxBody caps the response body to prevent unbounded memory use.
	maxBody = 10 << 20
)

// ErrNotHTML is wrapped when the target responds with a non-HTML body.
var ErrNotHTML = errors.New("non-html response")

// HTTPEngine is the lightweight engine that uses pure net/http with a
// Chrome TLS fingerprint. It is the fastest option, suitable for static
// pages that don't need JavaScript rendering.
type HTTPEngine struct {
	client *http.Client
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// NewHTTPEngine creates an HTTPEngine with a Chrome-like TLS fingerprint.
func NewHTTPEngine() *HTTPEngine {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return NewHTTPEngineWithClient(&http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	})
}

// NewHTTPEngineWithClient uses client as is. Tests pass an httptest client.
func NewHTTPEngineWithClient(client *http.Client) *HTTPEngine {
	return &HTTPEngine{client: client}
}

func (e *HTTPEngine) Name() string { return "http" }

func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &FetchError{Kind: Permanent, Engine: e.Name(), Err: fmt.Errorf("build request: %w", err)}
	}

	// Simulate browser-like headers.
	httpReq.Header.Set("User-Agent", chromeUA)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "identity")

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for i := range req.Cookies {
		httpReq.AddCookie(&req.Cookies[i])
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, Classify(e.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, Classify(e.Name(), fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, StatusError(e.Name(), resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !isHTMLContentType(ct) {
		return nil, &FetchError{Kind: Permanent, Engine: e.Name(), StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w (content-type: %s)", ErrNotHTML, ct)}
	}

	return &FetchResult{
		HTML:        string(body),
		Title:       extractTitle(body),
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		EngineName:  e.Name(),
		NeedsRender: needsBrowser(body),
	}, nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
// A missing header is accepted.
func isHTMLContentType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}

var reNoscript = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?)\s+javascript`)

// needsBrowser guesses whether the fetched HTML is a script-rendered shell
// (SPA root, noscript warning, script-heavy page with little text).
func needsBrowser(body []byte) bool {
	text := visibleText(body)
	if len(text) < 200 {
		return true
	}

	lower := strings.ToLower(string(body))
	for _, root := range []string{`<div id="root"></div>`, `<div id="app"></div>`, `<div id="__next"></div>`} {
		if strings.Contains(lower, root) {
			return true
		}
	}
	if reNoscript.MatchString(lower) {
		return true
	}
	return strings.Count(lower, "<script") > 10 && len(text) < 500
}

// visibleText returns the text inside <body>, skipping script and style.
func visibleText(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "body":
				inBody = true
			case "script", "style", "noscript":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				if t := strings.TrimSpace(string(tokenizer.Text())); t != "" {
					buf.WriteString(t)
					buf.WriteByte(' ')
				}
			}
		}
	}
}
