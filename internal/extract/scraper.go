package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

const scraperSource = "crop-profiles"

// faoCropPages maps crop names to their FAO water-and-crop-requirement
// profile pages.
var faoCropPages = map[string]string{
	"wheat":   "x8699e/x8699e04.htm",
	"maize":   "x8511e/x8511e04.htm",
	"rice":    "x8499e/x8499e04.htm",
	"soybean": "x8530e/x8530e04.htm",
	"potato":  "x8541e/x8541e04.htm",
}

const (
	faoBaseURL     = "https://www.fao.org/3/"
	faoReliability = 0.95
)

// Scraper fetches crop requirement prose from agronomy references, FAO
// first. Requests are spaced by the configured delay on top of the shared
// rate limit; reference sites are not built for crawlers.
type Scraper struct {
	client  *client
	baseURL string
	delay   time.Duration
	log     *slog.Logger
	visited map[string]bool
}

func NewScraper(cfg types.ScraperConfig, log *slog.Logger) *Scraper {
	if log == nil {
		log = slog.Default()
	}
	delay, err := time.ParseDuration(cfg.RequestDelay)
	if err != nil || delay <= 0 {
		delay = 2 * time.Second
	}
	retry := types.RetryPolicy{MaxAttempts: cfg.MaxRetries}
	return &Scraper{
		client: newClient(time.Duration(cfg.TimeoutSeconds)*time.Second,
			cfg.RequestsPerSecond, retry, cfg.UserAgent, log),
		baseURL: faoBaseURL,
		delay:   delay,
		log:     log,
		visited: make(map[string]bool),
	}
}

// ScrapeCrop fetches the reference page for one crop. Crops without a known
// profile page return nil without error; the caller decides whether that is
// worth reporting.
func (s *Scraper) ScrapeCrop(ctx context.Context, cropName string) (*types.CropSource, error) {
	page, ok := faoCropPages[strings.ToLower(strings.TrimSpace(cropName))]
	if !ok {
		s.log.Warn("no reference page for crop", "crop", cropName)
		return nil, nil
	}
	pageURL := s.baseURL + page
	if s.visited[pageURL] {
		return nil, nil
	}

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrBatchCancelled, ctx.Err())
	}

	body, err := s.client.fetch(ctx, scraperSource, pageURL)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", cropName, err)
	}
	s.visited[pageURL] = true

	text := extractText(string(body))
	if text == "" {
		return nil, fmt.Errorf("%w: empty page for crop %q", types.ErrValidationFailure, cropName)
	}

	s.log.Debug("crop profile scraped", "crop", cropName, "bytes", len(text))
	return &types.CropSource{
		CropName:    cropName,
		SourceURL:   pageURL,
		RawText:     text,
		Reliability: faoReliability,
	}, nil
}

// ScrapeCrops fetches profiles for a crop list, skipping crops that fail
// individually so one dead page does not starve the rest of the batch.
func (s *Scraper) ScrapeCrops(ctx context.Context, crops []string) ([]types.CropSource, error) {
	var sources []types.CropSource
	for _, crop := range crops {
		src, err := s.ScrapeCrop(ctx, crop)
		if err != nil {
			if ctx.Err() != nil {
				return sources, err
			}
			s.log.Error("crop scrape failed", "crop", crop, "error", err)
			continue
		}
		if src != nil {
			sources = append(sources, *src)
		}
	}
	return sources, nil
}

var blankLinesRe = regexp.MustCompile(`\n{2,}`)

// skipElements are subtrees that carry no crop prose.
var skipElements = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true, "head": true,
}

// extractText flattens an HTML document to newline-separated prose.
func extractText(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	return strings.TrimSpace(blankLinesRe.ReplaceAllString(sb.String(), "\n"))
}
