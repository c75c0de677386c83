package history

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"BourseCast/internal/config"
	"BourseCast/internal/model"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Provider yields a daily OHLCV series for a symbol. The first provider
// in the registry that returns a well-formed sequence wins.
type Provider interface {
	Name() string
	FetchDaily(ctx context.Context, symbol string, days int) ([]model.Bar, error)
}

// BuildProviders constructs the ordered provider registry from config.
func BuildProviders(cfgs []config.ProviderConfig, client *http.Client) []Provider {
	var out []Provider
	for _, c := range cfgs {
		switch c.Kind {
		case "csv":
			out = append(out, &CSVProvider{name: c.Name, urlTmpl: c.URL, symbolMap: c.SymbolMap, client: client})
		case "scrape":
			out = append(out, &PageProvider{name: c.Name, urlTmpl: c.URL, symbolMap: c.SymbolMap, client: client})
		case "feed":
			out = append(out, &FeedProvider{name: c.Name, urlTmpl: c.URL, symbolMap: c.SymbolMap, client: client})
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

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
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

func parseNum(raw string) (float64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if clean == "" || clean == "null" || clean == "-" {
		return 0, fmt.Errorf("empty numeric field")
	}
	return strconv.ParseFloat(clean, 64)
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "01/02/2006", "2 Jan 2006", "Jan 2, 2006"}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return model.DayKey(t), nil
		}
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil && ts > 1e9 {
		return model.DayKey(time.Unix(ts, 0)), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// CSVProvider downloads a historical CSV in the common
// Date,Open,High,Low,Close[,Adj Close],Volume shape.
type CSVProvider struct {
	name      string
	urlTmpl   string
	symbolMap map[string]string
	client    *http.Client
}

func (p *CSVProvider) Name() string { return p.name }

func (p *CSVProvider) FetchDaily(ctx context.Context, symbol string, days int) ([]model.Bar, error) {
	u := fmt.Sprintf(p.urlTmpl, url.QueryEscape(mappedSymbol(p.symbolMap, symbol)))
	body, err := fetchBody(ctx, p.client, u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	bars, err := ParseCSVBars(symbol, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return trimTail(bars, days), nil
}

// ParseCSVBars parses a daily CSV payload. Header names match
// case-insensitively; rows with missing or non-positive prices are
// dropped. Output is ascending by date.
func ParseCSVBars(symbol string, payload []byte) ([]model.Bar, error) {
	r := csv.NewReader(strings.NewReader(string(payload)))
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		rows = append(rows, rec)
	}
	return ParseRows(symbol, rows)
}

// ParseRows applies the daily-bar column conventions to pre-split rows,
// the first of which is the header. Shared by the CSV provider and the
// spreadsheet ingest path.
func ParseRows(symbol string, rows [][]string) ([]model.Bar, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty table")
	}
	header := rows[0]
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	pick := func(names ...string) (int, bool) {
		for _, n := range names {
			if i, ok := col[n]; ok {
				return i, true
			}
		}
		return 0, false
	}

	dateIdx, ok := pick("date", "time", "tanggal")
	if !ok {
		return nil, fmt.Errorf("csv missing date column")
	}
	closeIdx, ok := pick("close", "price", "last", "adj close")
	if !ok {
		return nil, fmt.Errorf("csv missing close column")
	}
	openIdx, hasOpen := pick("open")
	highIdx, hasHigh := pick("high")
	lowIdx, hasLow := pick("low")
	volIdx, hasVol := pick("volume", "vol")

	var bars []model.Bar
	for _, rec := range rows[1:] {
		if dateIdx >= len(rec) || closeIdx >= len(rec) {
			continue
		}
		date, err := parseDate(rec[dateIdx])
		if err != nil {
			continue
		}
		closePx, err := parseNum(rec[closeIdx])
		if err != nil || closePx <= 0 {
			continue
		}
		b := model.Bar{
			Symbol: symbol,
			Date:   date,
			Open:   closePx,
			High:   closePx,
			Low:    closePx,
			Close:  closePx,
		}
		if hasOpen && openIdx < len(rec) {
			if v, err := parseNum(rec[openIdx]); err == nil && v > 0 {
				b.Open = v
			}
		}
		if hasHigh && highIdx < len(rec) {
			if v, err := parseNum(rec[highIdx]); err == nil && v > 0 {
				b.High = v
			}
		}
		if hasLow && lowIdx < len(rec) {
			if v, err := parseNum(rec[lowIdx]); err == nil && v > 0 {
				b.Low = v
			}
		}
		if hasVol && volIdx < len(rec) {
			if v, err := parseNum(rec[volIdx]); err == nil && v >= 0 {
				b.Volume = v
			}
		}
		normalizeRange(&b)
		if b.Valid() {
			bars = append(bars, b)
		}
	}

	sortBars(bars)
	return dedupe(bars), nil
}

// PageProvider scrapes an HTML history table row by row.
type PageProvider struct {
	name      string
	urlTmpl   string
	symbolMap map[string]string
	client    *http.Client
}

func (p *PageProvider) Name() string { return p.name }

// rowPattern captures date, open, high, low, close, volume cells from
// one table row. Markup attributes between cells are tolerated.
var rowPattern = regexp.MustCompile(
	`<tr[^>]*>\s*<td[^>]*>([^<]+)</td>\s*<td[^>]*>([0-9.,]+)</td>\s*<td[^>]*>([0-9.,]+)</td>\s*<td[^>]*>([0-9.,]+)</td>\s*<td[^>]*>([0-9.,]+)</td>\s*<td[^>]*>([0-9.,]+)</td>`)

func (p *PageProvider) FetchDaily(ctx context.Context, symbol string, days int) ([]model.Bar, error) {
	u := fmt.Sprintf(p.urlTmpl, url.PathEscape(mappedSymbol(p.symbolMap, symbol)))
	body, err := fetchBody(ctx, p.client, u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	var bars []model.Bar
	for _, m := range rowPattern.FindAllStringSubmatch(string(body), -1) {
		date, err := parseDate(m[1])
		if err != nil {
			continue
		}
		var vals [5]float64
		bad := false
		for i := 0; i < 5; i++ {
			v, err := parseNum(m[i+2])
			if err != nil {
				bad = true
				break
			}
			vals[i] = v
		}
		if bad {
			continue
		}
		b := model.Bar{
			Symbol: symbol, Date: date,
			Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		}
		normalizeRange(&b)
		if b.Valid() {
			bars = append(bars, b)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no rows extracted", p.name)
	}
	sortBars(bars)
	return trimTail(dedupe(bars), days), nil
}

// FeedProvider reads a trimmed RSS feed whose item descriptions carry
// end-of-day figures in "O:.. H:.. L:.. C:.. V:.." form.
type FeedProvider struct {
	name      string
	urlTmpl   string
	symbolMap map[string]string
	client    *http.Client
}

func (p *FeedProvider) Name() string { return p.name }

type rssDoc struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

var feedFieldPattern = regexp.MustCompile(`([OHLCV]):\s*([0-9][0-9.,]*)`)

func (p *FeedProvider) FetchDaily(ctx context.Context, symbol string, days int) ([]model.Bar, error) {
	u := fmt.Sprintf(p.urlTmpl, url.PathEscape(mappedSymbol(p.symbolMap, symbol)))
	body, err := fetchBody(ctx, p.client, u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%s: decode feed: %w", p.name, err)
	}

	var bars []model.Bar
	for _, item := range doc.Channel.Items {
		date, err := parseFeedDate(item.Title, item.PubDate)
		if err != nil {
			continue
		}
		fields := map[string]float64{}
		for _, m := range feedFieldPattern.FindAllStringSubmatch(item.Description, -1) {
			if v, err := parseNum(m[2]); err == nil {
				fields[m[1]] = v
			}
		}
		closePx, ok := fields["C"]
		if !ok || closePx <= 0 {
			continue
		}
		b := model.Bar{
			Symbol: symbol, Date: date,
			Open: closePx, High: closePx, Low: closePx, Close: closePx,
		}
		if v, ok := fields["O"]; ok && v > 0 {
			b.Open = v
		}
		if v, ok := fields["H"]; ok && v > 0 {
			b.High = v
		}
		if v, ok := fields["L"]; ok && v > 0 {
			b.Low = v
		}
		if v, ok := fields["V"]; ok && v >= 0 {
			b.Volume = v
		}
		normalizeRange(&b)
		if b.Valid() {
			bars = append(bars, b)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no items extracted", p.name)
	}
	sortBars(bars)
	return trimTail(dedupe(bars), days), nil
}

func parseFeedDate(title, pubDate string) (time.Time, error) {
	if parts := strings.Fields(title); len(parts) > 0 {
		if d, err := parseDate(parts[len(parts)-1]); err == nil {
			return d, nil
		}
	}
	if t, err := time.Parse(time.RFC1123Z, pubDate); err == nil {
		return model.DayKey(t), nil
	}
	if t, err := time.Parse(time.RFC1123, pubDate); err == nil {
		return model.DayKey(t), nil
	}
	return time.Time{}, fmt.Errorf("no date in feed item")
}

// normalizeRange stretches high/low so the OHLC invariants hold for
// rows where the source reports a degenerate or inverted range.
func normalizeRange(b *model.Bar) {
	if b.High < b.Open {
		b.High = b.Open
	}
	if b.High < b.Close {
		b.High = b.Close
	}
	if b.Low > b.Open || b.Low <= 0 {
		b.Low = b.Open
	}
	if b.Low > b.Close {
		b.Low = b.Close
	}
}

func sortBars(bars []model.Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
}

// dedupe keeps the last row for each date. Input must be sorted.
func dedupe(bars []model.Bar) []model.Bar {
	if len(bars) < 2 {
		return bars
	}
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.Date.Equal(out[len(out)-1].Date) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func trimTail(bars []model.Bar, n int) []model.Bar {
	if n > 0 && len(bars) > n {
		return bars[len(bars)-n:]
	}
	return bars
}
