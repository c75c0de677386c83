package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"BourseCast/internal/config"
)

// browserUA is sent on every provider request. Several exchange pages
// serve an empty shell to non-browser agents.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Adapter extracts exactly one price candidate from one provider.
// Implementations never panic and never return a non-positive price
// with a nil error.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (float64, error)
}

// NewHTTPClient builds the shared client with optional proxy support.
// Per-call deadlines come from the request context, not the client.
func NewHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Transport: transport}
}

// BuildAdapters constructs the ordered adapter registry from config.
// Unknown kinds are skipped; order in config is priority order.
func BuildAdapters(cfgs []config.AdapterConfig, client *http.Client) []Adapter {
	var out []Adapter
	for _, c := range cfgs {
		switch c.Kind {
		case "json":
			out = append(out, &JSONAdapter{
				name:      c.Name,
				urlTmpl:   c.URL,
				paths:     c.JSONPaths,
				symbolMap: c.SymbolMap,
				client:    client,
			})
		case "scrape":
			a := &ScrapeAdapter{
				name:      c.Name,
				urlTmpl:   c.URL,
				symbolMap: c.SymbolMap,
				client:    client,
			}
			for _, p := range c.Patterns {
				if re, err := regexp.Compile(p); err == nil {
					a.patterns = append(a.patterns, re)
				}
			}
			out = append(out, a)
		}
	}
	return out
}

func fetchBody(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

func mappedSymbol(symbolMap map[string]string, symbol string) string {
	if mapped, ok := symbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// parsePrice normalizes a scraped numeric token: thousands separators
// stripped, must come out finite and positive.
func parsePrice(raw string) (float64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("non-positive price %q", raw)
	}
	return v, nil
}

// JSONAdapter fetches a JSON document and walks a prioritized list of
// dot-separated paths until one yields a number.
type JSONAdapter struct {
	name      string
	urlTmpl   string
	paths     []string
	symbolMap map[string]string
	client    *http.Client
}

func (a *JSONAdapter) Name() string { return a.name }

func (a *JSONAdapter) Fetch(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf(a.urlTmpl, url.QueryEscape(mappedSymbol(a.symbolMap, symbol)))
	body, err := fetchBody(ctx, a.client, u)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", a.name, err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("%s: decode: %w", a.name, err)
	}

	for _, path := range a.paths {
		if v, ok := walkJSONPath(doc, path); ok && v > 0 && !math.IsInf(v, 0) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%s: no candidate at any json path", a.name)
}

// walkJSONPath follows a dot-separated path through decoded JSON.
// Numeric segments index arrays.
func walkJSONPath(doc any, path string) (float64, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return 0, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return 0, false
			}
			cur = node[idx]
		default:
			return 0, false
		}
	}
	switch v := cur.(type) {
	case float64:
		return v, true
	case string:
		if f, err := parsePrice(v); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ScrapeAdapter fetches an HTML page and tries regex extractors in
// order of specificity. The first capture group that parses wins.
type ScrapeAdapter struct {
	name      string
	urlTmpl   string
	patterns  []*regexp.Regexp
	symbolMap map[string]string
	client    *http.Client
}

func (a *ScrapeAdapter) Name() string { return a.name }

func (a *ScrapeAdapter) Fetch(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf(a.urlTmpl, url.PathEscape(mappedSymbol(a.symbolMap, symbol)))
	body, err := fetchBody(ctx, a.client, u)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", a.name, err)
	}

	page := string(body)
	for _, re := range a.patterns {
		m := re.FindStringSubmatch(page)
		if len(m) < 2 {
			continue
		}
		if v, err := parsePrice(m[1]); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%s: no extractor matched", a.name)
}

// FuncAdapter wraps a plain function; used by tests and by callers that
// register in-process providers.
type FuncAdapter struct {
	AdapterName string
	Fn          func(ctx context.Context, symbol string) (float64, error)
}

func (a *FuncAdapter) Name() string { return a.AdapterName }

func (a *FuncAdapter) Fetch(ctx context.Context, symbol string) (float64, error) {
	return a.Fn(ctx, symbol)
}

// withTimeout bounds one provider call.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
