package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

const maxPageBytes = 8 << 20

// HTTPSource pages the subscriber-management sync API.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	logger     *logger.Logger
}

func NewHTTPSource(cfg config.SyncConfig, httpClient *http.Client, log *logger.Logger) *HTTPSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     log,
	}
}

// FetchPage returns page (1-based) of phase.
func (s *HTTPSource) FetchPage(ctx context.Context, phase Phase, page int) (*Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(s.pageSize))
	endpoint := fmt.Sprintf("%s/api/v1/sync/%s?%s", s.baseURL, phase, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync API error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync API returned %d for %s page %d", resp.StatusCode, phase, page)
	}

	var p Page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode %s page %d: %w", phase, page, err)
	}
	if p.Page == 0 {
		p.Page = page
	}
	return &p, nil
}
