package scanner

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashangit/seo-pro/internal/cache"
	"github.com/hashangit/seo-pro/internal/observability/tracing"
	"github.com/hashangit/seo-pro/internal/urlcheck"
	"go.uber.org/zap"
)

// Page-count estimation is pricing input only: best-effort,
// non-authoritative, and never worth failing an estimate over.

const (
	maxContentSize = 10 << 20
	maxSitemapURLs = 10000
	estimateTTL    = 5 * time.Minute
)

const (
	SourceSitemap  = "sitemap"
	SourceHomepage = "homepage"
	SourceDefault  = "default"
)

var ErrUnsafeTarget = errors.New("unsafe_target")

// Estimate is the result of a page-count probe.
type Estimate struct {
	PageCount  int64
	Confidence float64
	Source     string
}

// Estimator probes a site for an approximate page count.
type Estimator interface {
	EstimatePages(ctx context.Context, target string) (Estimate, error)
}

// Scanner estimates page counts over plain HTTP: robots.txt to find a
// sitemap, sitemap XML to count URLs, homepage links as a fallback.
type Scanner struct {
	client    *http.Client
	log       *zap.Logger
	userAgent string
	cache     cache.Cache[string, Estimate]
}

func New(log *zap.Logger, userAgent string) *Scanner {
	return &Scanner{
		client: tracing.WrapHTTPClient(&http.Client{
			Timeout: 10 * time.Second,
		}),
		log:       log.Named("scanner"),
		userAgent: userAgent,
		cache:     cache.NewTTLCache[string, Estimate](),
	}
}

func (s *Scanner) EstimatePages(ctx context.Context, target string) (Estimate, error) {
	target = urlcheck.Normalize(target)
	if err := urlcheck.CheckTarget(target); err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", ErrUnsafeTarget, err)
	}

	if cached, ok := s.cache.Get(target); ok {
		return cached, nil
	}

	estimate := s.probe(ctx, target)
	s.cache.Set(target, estimate, estimateTTL)
	return estimate, nil
}

func (s *Scanner) probe(ctx context.Context, target string) Estimate {
	if sitemapURL := s.findSitemap(ctx, target); sitemapURL != "" {
		if count := s.countSitemapURLs(ctx, sitemapURL); count > 0 {
			return Estimate{PageCount: count, Confidence: 1.0, Source: SourceSitemap}
		}
	}

	if count := s.countHomepageLinks(ctx, target); count > 0 {
		return Estimate{PageCount: count, Confidence: 0.6, Source: SourceHomepage}
	}

	return Estimate{PageCount: 1, Confidence: 0.0, Source: SourceDefault}
}

var sitemapDirective = regexp.MustCompile(`(?im)^sitemap:\s*(\S+)`)

// findSitemap checks robots.txt first, then the conventional path.
func (s *Scanner) findSitemap(ctx context.Context, target string) string {
	base, err := url.Parse(target)
	if err != nil {
		return ""
	}
	root := base.Scheme + "://" + base.Host

	if body, err := s.fetch(ctx, root+"/robots.txt"); err == nil {
		if match := sitemapDirective.FindSubmatch(body); len(match) == 2 {
			candidate := strings.TrimSpace(string(match[1]))
			if urlcheck.CheckTarget(candidate) == nil {
				return candidate
			}
		}
	}

	fallback := root + "/sitemap.xml"
	if _, err := s.fetch(ctx, fallback); err == nil {
		return fallback
	}
	return ""
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

func (s *Scanner) countSitemapURLs(ctx context.Context, sitemapURL string) int64 {
	body, err := s.fetch(ctx, sitemapURL)
	if err != nil {
		return 0
	}

	// A sitemap index nests further sitemaps one level down.
	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var total int64
		for _, child := range index.Sitemaps {
			if urlcheck.CheckTarget(child.Loc) != nil {
				continue
			}
			total += s.countFlatSitemap(ctx, child.Loc)
			if total >= maxSitemapURLs {
				return maxSitemapURLs
			}
		}
		return total
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return 0
	}
	count := int64(len(set.URLs))
	if count > maxSitemapURLs {
		count = maxSitemapURLs
	}
	return count
}

func (s *Scanner) countFlatSitemap(ctx context.Context, sitemapURL string) int64 {
	body, err := s.fetch(ctx, sitemapURL)
	if err != nil {
		return 0
	}
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return 0
	}
	return int64(len(set.URLs))
}

var hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*["']([^"'#]+)["']`)

// countHomepageLinks counts distinct same-host paths linked from the
// homepage.
func (s *Scanner) countHomepageLinks(ctx context.Context, target string) int64 {
	body, err := s.fetch(ctx, target)
	if err != nil {
		return 0
	}
	base, err := url.Parse(target)
	if err != nil {
		return 0
	}

	seen := map[string]struct{}{"/": {}}
	for _, match := range hrefPattern.FindAllSubmatch(body, -1) {
		href := strings.TrimSpace(string(match[1]))
		resolved, err := base.Parse(href)
		if err != nil || resolved.Host != base.Host {
			continue
		}
		path := resolved.Path
		if path == "" {
			path = "/"
		}
		seen[path] = struct{}{}
	}
	return int64(len(seen))
}

func (s *Scanner) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxContentSize))
}
