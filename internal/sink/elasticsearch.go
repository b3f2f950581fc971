package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/news"
)

// ElasticsearchSink indexes candidates by id, so re-publishing an item
// overwrites its document.
type ElasticsearchSink struct {
	es    *elasticsearch.Client
	index string
}

// NewElasticsearchSink creates a client for cfg.Addr.
func NewElasticsearchSink(cfg config.ElasticsearchSink) (*ElasticsearchSink, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{cfg.Addr}})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticsearchSink{es: es, index: cfg.Index}, nil
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch:" + s.index }

// Ping checks that the cluster is reachable.
func (s *ElasticsearchSink) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// Publish sends items in one bulk request.
func (s *ElasticsearchSink) Publish(ctx context.Context, items []news.Candidate) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, c := range items {
		meta := map[string]any{"index": map[string]any{"_id": c.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(DocumentFor(c)); err != nil {
			return fmt.Errorf("marshal %s: %w", c.ID, err)
		}
	}

	req := esapi.BulkRequest{
		Index:   s.index,
		Body:    &body,
		Refresh: "false",
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk index failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}

	var failed []string
	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error != nil {
				failed = append(failed, fmt.Sprintf("%s: %s", op.ID, op.Error.Reason))
			}
		}
	}
	return fmt.Errorf("bulk index rejected %d of %d documents: %s",
		len(failed), len(items), strings.Join(failed, "; "))
}

func (s *ElasticsearchSink) Close() error { return nil }
