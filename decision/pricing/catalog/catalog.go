// Package catalog implements live price sources that scrape public
// procurement listings: the GeM marketplace search and the CPWD schedule
// of rates.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"roadsafety-cost/decision/pricing"
	"roadsafety-cost/pkg/platform"
)

const (
	SourceGeM  = "gem"
	SourceCPWD = "cpwd"
)

// parseFunc turns a fetched listing page into candidates.
type parseFunc func(doc *goquery.Document, base *url.URL) []pricing.Candidate

// Source is a rate-limited HTML catalog implementing pricing.LiveSource.
type Source struct {
	name    string
	base    *url.URL
	path    string
	client  *platform.HTTPClient
	limiter *rate.Limiter
	parse   parseFunc
	logger  *slog.Logger
}

// Options configures a catalog source.
type Options struct {
	BaseURL       string
	RatePerSecond float64
	Client        *platform.HTTPClient
	Logger        *slog.Logger
}

func newSource(name, path string, parse parseFunc, opts Options) (*Source, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", name)
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base url: %w", name, err)
	}
	if opts.Client == nil {
		opts.Client = platform.NewHTTPClient(platform.DefaultRetryPolicy(), 15*time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Every(time.Duration(float64(time.Second) / opts.RatePerSecond))
	}
	return &Source{
		name:    name,
		base:    base,
		path:    path,
		client:  opts.Client,
		limiter: rate.NewLimiter(limit, 1),
		parse:   parse,
		logger:  opts.Logger,
	}, nil
}

// NewGeM returns a source for the GeM product search.
func NewGeM(opts Options) (*Source, error) {
	return newSource(SourceGeM, "/search", parseGeM, opts)
}

// NewCPWD returns a source for the CPWD schedule of rates search.
func NewCPWD(opts Options) (*Source, error) {
	return newSource(SourceCPWD, "/dsr/search", parseCPWD, opts)
}

func (s *Source) Name() string { return s.name }

// Search fetches the listing page for query and returns its priced rows.
func (s *Source) Search(ctx context.Context, query string) ([]pricing.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", s.name, err)
	}

	u := s.base.JoinPath(s.path)
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	body, err := s.client.Get(ctx, s.name, u.String())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: parse listing: %w", s.name, err)
	}

	cands := s.parse(doc, s.base)
	s.logger.Debug("catalog search", "source", s.name, "query", query, "candidates", len(cands))
	return cands, nil
}

// ============================================================================
// Listing layouts
// ============================================================================

// parseGeM reads product cards:
//
//	<div class="product-card" data-catalog-id="...">
//	  <a class="product-link" href="..."><span class="product-title">..</span></a>
//	  <span class="product-price">₹ 1,250.00</span> <span class="product-unit">per Nos</span>
//	  <div class="product-spec">..</div>
//	</div>
func parseGeM(doc *goquery.Document, base *url.URL) []pricing.Candidate {
	var out []pricing.Candidate
	doc.Find("div.product-card").Each(func(_ int, s *goquery.Selection) {
		price, ok := ParsePrice(s.Find(".product-price").First().Text())
		if !ok {
			return
		}
		c := pricing.Candidate{
			Name:          clean(s.Find(".product-title").First().Text()),
			Unit:          clean(strings.TrimPrefix(clean(s.Find(".product-unit").First().Text()), "per ")),
			UnitPrice:     price,
			Specification: clean(s.Find(".product-spec").First().Text()),
		}
		c.ItemCode, _ = s.Attr("data-catalog-id")
		if href, ok := s.Find("a.product-link").Attr("href"); ok {
			c.URL = resolve(base, href)
		}
		if c.Name != "" {
			out = append(out, c)
		}
	})
	return out
}

// parseCPWD reads schedule rows laid out as code, description, unit, rate.
func parseCPWD(doc *goquery.Document, base *url.URL) []pricing.Candidate {
	var out []pricing.Candidate
	doc.Find("table.dsr-items tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		price, ok := ParsePrice(cells.Eq(3).Text())
		if !ok {
			return
		}
		c := pricing.Candidate{
			ItemCode:  clean(cells.Eq(0).Text()),
			Name:      clean(cells.Eq(1).Text()),
			Unit:      clean(cells.Eq(2).Text()),
			UnitPrice: price,
		}
		if href, ok := cells.Eq(1).Find("a").Attr("href"); ok {
			c.URL = resolve(base, href)
		}
		if c.Name != "" {
			out = append(out, c)
		}
	})
	return out
}

var amount = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParsePrice reads the first amount in a displayed price such as
// "₹ 1,250.00" or "Rs. 2,400/-".
func ParsePrice(s string) (decimal.Decimal, bool) {
	m := amount.FindString(s)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
