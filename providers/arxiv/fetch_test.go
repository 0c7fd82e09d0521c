package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-scout/config"
)

// The second entry is older than every cutoff used below, so a category scan
// always stops on the first page.
const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query: search_query=cat:cs.LG</title>
  <totalResults>2</totalResults>
  <startIndex>0</startIndex>
  <itemsPerPage>100</itemsPerPage>
  <entry>
    <id>http://arxiv.org/abs/2501.01234v2</id>
    <title>Graph Neural Networks
        for Molecules</title>
    <summary>We study   message passing
        on molecular graphs.</summary>
    <published>2025-01-10T12:00:00Z</published>
    <updated>2025-01-11T08:00:00Z</updated>
    <author><name>Ada Lovelace</name></author>
    <author><name> Alan Turing </name></author>
    <category term="cs.LG"/>
    <category term="q-bio.BM"/>
    <link href="http://arxiv.org/abs/2501.01234v2" rel="alternate" type="text/html"/>
    <link href="http://arxiv.org/pdf/2501.01234v2" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/solv-int/9711008v1</id>
    <title>An older paper</title>
    <summary>Predates the cutoff.</summary>
    <published>2020-01-01T00:00:00Z</published>
    <author><name>Old Author</name></author>
    <category term="nlin.SI"/>
  </entry>
</feed>`

const emptyFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <totalResults>2</totalResults>
  <startIndex>100</startIndex>
  <itemsPerPage>100</itemsPerPage>
</feed>`

func newFetcherAgainst(t *testing.T, url, categories string) *Fetcher {
	t.Helper()
	cfg := &config.Config{
		ArxivBaseURL:    url,
		ArxivCategories: categories,
		IngestBatchSize: 100,
	}
	return NewFetcher(cfg, zap.NewNop())
}

func TestFetch_ParsesEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "cat:cs.LG", q.Get("search_query"))
		require.Equal(t, "submittedDate", q.Get("sortBy"))
		require.Equal(t, "descending", q.Get("sortOrder"))
		w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	fetcher := newFetcherAgainst(t, server.URL, "cs.LG")
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	papers, err := fetcher.Fetch(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, papers, 1)

	p := papers[0]
	assert.Equal(t, "2501.01234v2", p.ID)
	assert.Equal(t, "Graph Neural Networks for Molecules", p.Title)
	assert.Equal(t, "We study message passing on molecular graphs.", p.Abstract)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, p.Authors)
	assert.Equal(t, []string{"cs.LG", "q-bio.BM"}, p.Keywords)
	assert.Equal(t, "http://arxiv.org/abs/2501.01234v2", p.Link)
	assert.True(t, p.Published.Equal(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)))
}

func TestFetch_DeduplicatesAcrossCategories(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	fetcher := newFetcherAgainst(t, server.URL, "cs.LG, stat.ML")
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	papers, err := fetcher.Fetch(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
	assert.Len(t, papers, 1)
}

func TestFetch_CutoffIncludesOlderEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") != "0" {
			w.Write([]byte(emptyFeed))
			return
		}
		w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	fetcher := newFetcherAgainst(t, server.URL, "cs.LG")
	since := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	// With a cutoff before both entries the page is exhausted instead of
	// truncated early, so the second (empty follow-up) page ends the scan.
	done := make(chan struct{})
	var papers int
	go func() {
		defer close(done)
		fetched, err := fetcher.Fetch(context.Background(), since)
		require.NoError(t, err)
		papers = len(fetched)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("fetch did not finish")
	}
	assert.Equal(t, 2, papers)
}

func TestFetch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := newFetcherAgainst(t, server.URL, "cs.LG")
	_, err := fetcher.Fetch(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cs.LG")
}

func TestEntryID(t *testing.T) {
	cases := map[string]string{
		"http://arxiv.org/abs/2501.01234v2":       "2501.01234v2",
		"http://arxiv.org/abs/solv-int/9711008v1": "solv-int/9711008v1",
		"  http://arxiv.org/abs/1234.5678 ":       "1234.5678",
		"http://example.org/nothing":              "",
		"": "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, entryID(raw), raw)
	}
}
