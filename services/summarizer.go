package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
)

const summarySystemPrompt = "You are a scientific assistant. Extract only the novel contributions of a research abstract. " +
	"Output MUST be a single line of comma-separated list of short noun phrases (3-8 words). " +
	"Third-person; no background/applications/future work; preserve numerics; no <think>."

// reasoning strips chain-of-thought markers some local models emit.
var reasoning = regexp.MustCompile(`(?is)<think>.*?</think>`)

// SummaryCatalog is the slice of the catalog the summarizer touches.
type SummaryCatalog interface {
	Unsummarized(ctx context.Context, since time.Time, limit int) ([]models.Paper, error)
	SetSummary(ctx context.Context, id, summary string) error
}

// SummaryService fills the derived summary column for recently ingested
// papers by asking an Ollama-compatible model for the novel contributions of
// each abstract. It is best-effort enrichment: papers stay useful without
// it, and it is skipped entirely when no endpoint is configured.
type SummaryService struct {
	baseURL string
	model   string
	batch   int
	catalog SummaryCatalog
	client  *http.Client
	logger  *zap.Logger
}

// NewSummaryService builds the enrichment job.
func NewSummaryService(cfg *config.Config, catalog SummaryCatalog, logger *zap.Logger) *SummaryService {
	return &SummaryService{
		baseURL: strings.TrimRight(cfg.LLMBaseURL, "/"),
		model:   cfg.LLMModel,
		batch:   50,
		catalog: catalog,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// Run summarizes papers added in the last day that have an abstract but no
// summary yet.
func (s *SummaryService) Run(ctx context.Context) (int, error) {
	if s.baseURL == "" {
		return 0, nil
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		papers, err := s.catalog.Unsummarized(ctx, since, s.batch)
		if err != nil {
			return done, fmt.Errorf("load unsummarized: %w", err)
		}
		if len(papers) == 0 {
			return done, nil
		}

		stored := 0
		for _, paper := range papers {
			summary, err := s.summarize(ctx, paper.Abstract)
			if err != nil {
				s.logger.Warn("Summarization failed",
					zap.String("paper_id", paper.ID), zap.Error(err))
				continue
			}
			if summary == "" {
				continue
			}
			if err := s.catalog.SetSummary(ctx, paper.ID, summary); err != nil {
				return done, fmt.Errorf("store summary for %s: %w", paper.ID, err)
			}
			done++
			stored++
		}

		// A pass without a single stored summary would refetch the exact
		// same batch; give up and let the next sweep retry the backlog.
		if stored == 0 {
			s.logger.Warn("No summaries stored this pass, leaving backlog for next run",
				zap.Int("pending", len(papers)))
			return done, nil
		}
		if len(papers) < s.batch {
			return done, nil
		}
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message  chatMessage `json:"message"`
	Response string      `json:"response"`
}

func (s *SummaryService) summarize(ctx context.Context, abstract string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model": s.model,
		"messages": []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: "Abstract:\n" + abstract + "\n"},
		},
		"options": map[string]any{
			"temperature": 0.2,
			"top_p":       0.9,
			"num_predict": 100,
			"seed":        42,
		},
		"stream":     false,
		"keep_alive": "1h",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	text := parsed.Message.Content
	if text == "" {
		text = parsed.Response
	}
	return cleanSummary(text), nil
}

// cleanSummary drops any reasoning block and keeps the text after it.
func cleanSummary(text string) string {
	if text == "" {
		return ""
	}
	parts := strings.Split(text, "</think>")
	tail := parts[len(parts)-1]
	return strings.TrimSpace(reasoning.ReplaceAllString(tail, ""))
}
