package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
)

// requestDelay keeps us inside the arXiv API politeness guidelines.
const requestDelay = 3 * time.Second

var whitespace = regexp.MustCompile(`\s+`)

// Fetcher pulls recent preprints from the arXiv Atom API, one paginated
// query per configured category.
type Fetcher struct {
	baseURL    string
	categories []string
	batchSize  int
	client     *http.Client
	logger     *zap.Logger
}

// NewFetcher builds the provider from configuration.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	var categories []string
	for _, c := range strings.Split(cfg.ArxivCategories, ",") {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	return &Fetcher{
		baseURL:    cfg.ArxivBaseURL,
		categories: categories,
		batchSize:  cfg.IngestBatchSize,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Name returns the provider name.
func (f *Fetcher) Name() string {
	return "arxiv"
}

// Fetch walks every configured category, newest submissions first, until it
// crosses the cutoff. Duplicate ids across categories collapse to the first
// occurrence.
func (f *Fetcher) Fetch(ctx context.Context, since time.Time) ([]*models.Paper, error) {
	seen := make(map[string]bool)
	var papers []*models.Paper

	for _, category := range f.categories {
		fetched, err := f.fetchCategory(ctx, category, since)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", category, err)
		}
		for _, p := range fetched {
			if !seen[p.ID] {
				seen[p.ID] = true
				papers = append(papers, p)
			}
		}
	}
	return papers, nil
}

func (f *Fetcher) fetchCategory(ctx context.Context, category string, since time.Time) ([]*models.Paper, error) {
	var papers []*models.Paper

	for start := 0; ; start += f.batchSize {
		page, err := f.fetchPage(ctx, category, start)
		if err != nil {
			return nil, err
		}
		if len(page.Entries) == 0 {
			return papers, nil
		}

		for _, e := range page.Entries {
			if e.Published.Before(since) {
				// Results are sorted by submission date, everything
				// after this point is older than the cutoff.
				return papers, nil
			}
			if p := toPaper(e); p != nil {
				papers = append(papers, p)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(requestDelay):
		}
	}
}

func (f *Fetcher) fetchPage(ctx context.Context, category string, start int) (*feed, error) {
	params := url.Values{}
	params.Set("search_query", "cat:"+category)
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	params.Set("start", fmt.Sprintf("%d", start))
	params.Set("max_results", fmt.Sprintf("%d", f.batchSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var page feed
	if err := xml.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	f.logger.Debug("Fetched arXiv page",
		zap.String("category", category),
		zap.Int("start", start),
		zap.Int("entries", len(page.Entries)))
	return &page, nil
}

func toPaper(e entry) *models.Paper {
	id := entryID(e.ID)
	if id == "" {
		return nil
	}

	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}
	keywords := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		if term := strings.TrimSpace(c.Term); term != "" {
			keywords = append(keywords, term)
		}
	}

	link := e.ID
	for _, l := range e.Links {
		if l.Type == "text/html" {
			link = l.HRef
		}
	}

	return &models.Paper{
		ID:        id,
		Title:     oneLine(e.Title),
		Abstract:  oneLine(e.Summary),
		Authors:   authors,
		Keywords:  keywords,
		Link:      link,
		Published: e.Published.UTC(),
	}
}

// entryID extracts the arXiv id from the entry's abs URL.
func entryID(raw string) string {
	raw = strings.TrimSpace(raw)
	i := strings.Index(raw, "/abs/")
	if i < 0 {
		return ""
	}
	return raw[i+len("/abs/"):]
}

func oneLine(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
