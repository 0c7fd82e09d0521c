package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/storage"
)

func seedMatches(t *testing.T, filters *storage.FilterStore, userID uint, recs ...models.MatchRecord) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filters.UserDir(userID), 0755))
	store, err := storage.OpenMatchStore(filters.MatchDBPath(userID))
	require.NoError(t, err)
	defer store.Close()
	for _, rec := range recs {
		require.NoError(t, store.Upsert(rec))
	}
}

func newTestNotifier(t *testing.T) (*NotifierService, *storage.FilterStore) {
	t.Helper()
	filters := storage.NewFilterStore(t.TempDir())
	catalog := &fakeCatalog{users: []models.User{{ID: 1, Email: "u@example.org"}}}
	cfg := &config.Config{SMTPFrom: "alerts@example.org"}
	return NewNotifierService(cfg, catalog, filters, zap.NewNop()), filters
}

func TestRenderDigest_GroupsByFilter(t *testing.T) {
	body, err := renderDigest([]models.MatchRecord{
		{PaperID: "1", Title: "Paper one", Link: "https://example.org/1", SourceFilter: "zebra"},
		{PaperID: "2", Title: "Paper two", Link: "https://example.org/2", SourceFilter: "alpha", Summary: "Short take."},
		{PaperID: "3", Title: "Paper three", Link: "https://example.org/3"},
	}, localize("en"))
	require.NoError(t, err)

	assert.Contains(t, body, "The following papers matched your filters:")
	assert.Contains(t, body, "<h3>alpha</h3>")
	assert.Contains(t, body, "<h3>zebra</h3>")
	assert.Contains(t, body, "<h3>unknown</h3>")
	assert.Contains(t, body, `<a href="https://example.org/1">Paper one</a>`)
	assert.Contains(t, body, "<em>Short take.</em>")
	// Sections come out in filter-name order.
	assert.Less(t, strings.Index(body, "alpha"), strings.Index(body, "zebra"))
}

func TestRunAll_SendsDigestAndMarksOld(t *testing.T) {
	notifier, filters := newTestNotifier(t)
	seedMatches(t, filters, 1,
		models.MatchRecord{PaperID: "A", Title: "Graph paper", Label: models.LabelNew, SourceFilter: "gnn"},
		models.MatchRecord{PaperID: "B", Title: "Seen before", Label: models.LabelOld, SourceFilter: "gnn"},
	)

	var gotTo, gotBody string
	notifier.send = func(to, subject, body string) error {
		gotTo, gotBody = to, body
		return nil
	}

	sent, err := notifier.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, "u@example.org", gotTo)
	assert.Contains(t, gotBody, "Graph paper")
	assert.NotContains(t, gotBody, "Seen before")

	store, err := storage.OpenMatchStore(filters.MatchDBPath(1))
	require.NoError(t, err)
	defer store.Close()
	rec, err := store.Get("A")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.LabelOld, rec.Label)
}

func TestRunAll_FailedSendKeepsRecordsNew(t *testing.T) {
	notifier, filters := newTestNotifier(t)
	seedMatches(t, filters, 1,
		models.MatchRecord{PaperID: "A", Title: "Graph paper", Label: models.LabelNew, SourceFilter: "gnn"},
	)
	notifier.send = func(to, subject, body string) error {
		return errors.New("smtp refused")
	}

	sent, err := notifier.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	store, err := storage.OpenMatchStore(filters.MatchDBPath(1))
	require.NoError(t, err)
	defer store.Close()
	rec, err := store.Get("A")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.LabelNew, rec.Label, "a failed digest must stay pending")
}

func TestRunAll_NoPendingMatchesSendsNothing(t *testing.T) {
	notifier, filters := newTestNotifier(t)
	seedMatches(t, filters, 1,
		models.MatchRecord{PaperID: "B", Title: "Seen before", Label: models.LabelOld},
	)
	notifier.send = func(to, subject, body string) error {
		t.Fatal("send must not be called")
		return nil
	}

	sent, err := notifier.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestNotifyUser_DigestIsLocalized(t *testing.T) {
	notifier, filters := newTestNotifier(t)
	notifier.catalog = &fakeCatalog{users: []models.User{{ID: 1, Email: "u@example.org", Lang: "de"}}}
	seedMatches(t, filters, 1,
		models.MatchRecord{PaperID: "A", Title: "Graph paper", Label: models.LabelNew, SourceFilter: "gnn"},
	)

	var gotSubject, gotBody string
	notifier.send = func(to, subject, body string) error {
		gotSubject, gotBody = subject, body
		return nil
	}

	sent, err := notifier.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, "Neue Paper zu Ihren Filtern", gotSubject)
	assert.Contains(t, gotBody, "Die folgenden Paper entsprechen Ihren Filtern:")
}

func TestSendVerificationCode(t *testing.T) {
	notifier, _ := newTestNotifier(t)
	notifier.cfg.VerificationCodeTTLMinutes = 10

	var gotSubject, gotBody string
	notifier.send = func(to, subject, body string) error {
		gotSubject, gotBody = subject, body
		return nil
	}

	require.NoError(t, notifier.SendVerificationCode("u@example.org", "en", "4242"))
	assert.Equal(t, "Your verification code", gotSubject)
	assert.Contains(t, gotBody, "4242")
	assert.Contains(t, gotBody, "10 minutes")

	// Unknown languages fall back to English.
	require.NoError(t, notifier.SendVerificationCode("u@example.org", "fr", "4242"))
	assert.Equal(t, "Your verification code", gotSubject)

	require.NoError(t, notifier.SendVerificationCode("u@example.org", "de", "4242"))
	assert.Equal(t, "Ihr Verifizierungscode", gotSubject)
	assert.Contains(t, gotBody, "10 Minuten")

	notifier.cfg.SMTPFrom = ""
	assert.Error(t, notifier.SendVerificationCode("u@example.org", "en", "4242"))
}

func TestRunAll_SkipsWhenSMTPUnconfigured(t *testing.T) {
	filters := storage.NewFilterStore(t.TempDir())
	catalog := &fakeCatalog{users: []models.User{{ID: 1, Email: "u@example.org"}}}
	notifier := NewNotifierService(&config.Config{}, catalog, filters, zap.NewNop())
	notifier.send = func(to, subject, body string) error {
		t.Fatal("send must not be called")
		return nil
	}

	sent, err := notifier.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}
