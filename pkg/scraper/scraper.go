// Package scraper discovers PDF publications on a paginated listing
// site and downloads them. It is the pipeline's download collaborator;
// dedup against the registry happens in the pipeline, not here.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/statpipe/statpipe/internal/models"
)

type ScraperConfig struct {
	BaseURL    string  // listing base; pages live at <base><n>/
	StartPage  int     // first listing page, 1 being the most recent
	MaxPages   int     // safety cap; 0 means no cap
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	OnProgress func(url string)
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.StartPage == 0 {
		config.StartPage = 1
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}

	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, err
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Discover walks the listing pages from StartPage upwards, collecting
// every PDF link, and stops at the first page that carries none (the
// site's way of signalling the end of the archive).
func (s *Scraper) Discover(ctx context.Context) ([]models.SourceLink, error) {
	var links []models.SourceLink
	seen := make(map[string]bool)

	for page := s.config.StartPage; ; page++ {
		if s.config.MaxPages > 0 && page >= s.config.StartPage+s.config.MaxPages {
			break
		}

		pageURL := fmt.Sprintf("%s%d/", s.config.BaseURL, page)
		pageLinks, err := s.discoverPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if len(pageLinks) == 0 {
			break
		}

		for _, link := range pageLinks {
			if seen[link.URL] {
				continue
			}
			seen[link.URL] = true
			links = append(links, link)
		}
	}

	return links, nil
}

func (s *Scraper) discoverPage(ctx context.Context, pageURL string) ([]models.SourceLink, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Past the last listing page.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var links []models.SourceLink
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, exists := selection.Attr("href")
		if !exists || !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			return
		}

		abs, err := url.Parse(href)
		if err != nil {
			return
		}
		if !abs.IsAbs() {
			abs = base.ResolveReference(abs)
		}

		links = append(links, models.SourceLink{
			URL:        abs.String(),
			Filename:   path.Base(abs.Path),
			OriginPage: pageURL,
		})
	})

	if s.config.OnProgress != nil {
		s.config.OnProgress(pageURL)
	}
	return links, nil
}

// Fetch downloads one discovered source, honouring the rate limit.
func (s *Scraper) Fetch(ctx context.Context, link models.SourceLink) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, link.URL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if s.config.OnProgress != nil {
		s.config.OnProgress(link.URL)
	}
	return data, nil
}
