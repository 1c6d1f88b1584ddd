package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	DefaultIndex       = "repeatnomore_chunks"
	healthInterval     = 10 * time.Second
	deleteScanLimit    = 1000
	defaultResultLimit = 5
)

// Meili implements Index and Retriever via Meilisearch.
type Meili struct {
	client    meili.ServiceManager
	indexUID  string
	healthy   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewMeili creates a Meilisearch client and configures the chunk index. An
// unreachable server is not an error: the instance reports unhealthy until the
// background monitor sees it recover.
func NewMeili(url, apiKey, indexUID string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	if indexUID == "" {
		indexUID = DefaultIndex
	}
	m := &Meili{
		client:   meili.New(url, meili.WithAPIKey(apiKey)),
		indexUID: indexUID,
		done:     make(chan struct{}),
		logger:   logger.Named("search"),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: m.indexUID, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", m.indexUID), zap.Error(err))
	}
	index := m.client.Index(m.indexUID)
	filterable := []interface{}{"source", "kind"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", m.indexUID), zap.Error(err))
	}
	searchable := []string{"content", "file_name"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", m.indexUID), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Count(ctx context.Context) (int64, error) {
	resp, err := m.search(ctx, &meili.SearchRequest{IndexUID: m.indexUID, Limit: 1})
	if err != nil {
		return 0, err
	}
	return resp.EstimatedTotalHits, nil
}

func (m *Meili) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := m.ready(ctx); err != nil {
		return err
	}
	if _, err := m.client.Index(m.indexUID).AddDocuments(docs, nil); err != nil {
		return fmt.Errorf("meilisearch add documents: %w", err)
	}
	return nil
}

// DeleteSource removes every chunk whose source equals source.
func (m *Meili) DeleteSource(ctx context.Context, source string) error {
	resp, err := m.search(ctx, &meili.SearchRequest{
		IndexUID:             m.indexUID,
		Limit:                deleteScanLimit,
		Filter:               []string{fmt.Sprintf("source = %q", source)},
		AttributesToRetrieve: []string{"id"},
	})
	if err != nil {
		return err
	}
	index := m.client.Index(m.indexUID)
	for _, hit := range resp.Hits {
		id := decodeString(hit, "id")
		if id == "" {
			continue
		}
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("meilisearch delete %s: %w", id, err)
		}
	}
	return nil
}

// Reset drops the index and recreates it empty.
func (m *Meili) Reset(ctx context.Context) error {
	if err := m.ready(ctx); err != nil {
		return err
	}
	if _, err := m.client.DeleteIndex(m.indexUID); err != nil {
		return fmt.Errorf("meilisearch delete index: %w", err)
	}
	m.configureIndex()
	return nil
}

func (m *Meili) Retrieve(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = defaultResultLimit
	}
	resp, err := m.search(ctx, &meili.SearchRequest{
		IndexUID:         m.indexUID,
		Query:            query,
		Limit:            int64(limit),
		ShowRankingScore: true,
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		hits = append(hits, toHit(h))
	}
	return hits, nil
}

func (m *Meili) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.healthy.Load() {
		return ErrUnavailable
	}
	return nil
}

func (m *Meili) search(ctx context.Context, req *meili.SearchRequest) (*meili.SearchResponse, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{req}})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}
	if len(resp.Results) == 0 {
		return &meili.SearchResponse{}, nil
	}
	return &resp.Results[0], nil
}

func toHit(hit meili.Hit) Hit {
	h := Hit{
		Content: decodeString(hit, "content"),
		Metadata: map[string]any{
			"source": decodeString(hit, "source"),
			"kind":   decodeString(hit, "kind"),
		},
		Score: decodeFloat(hit, "_rankingScore"),
	}
	if name := decodeString(hit, "file_name"); name != "" {
		h.Metadata["file_name"] = name
	}
	if raw, ok := hit["metadata"]; ok {
		var extra map[string]any
		if err := json.Unmarshal(raw, &extra); err == nil {
			for k, v := range extra {
				if _, taken := h.Metadata[k]; !taken {
					h.Metadata[k] = v
				}
			}
		}
	}
	return h
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func decodeFloat(hit meili.Hit, key string) float64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}
