// Package sink publishes persisted candidates to downstream systems.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/news"
)

// Sink receives every candidate written by an ingestion cycle.
type Sink interface {
	Name() string
	Publish(ctx context.Context, items []news.Candidate) error
	Close() error
}

// Document is the wire form of a candidate shared by all sinks.
type Document struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	SourceName  string    `json:"sourceName"`
	OriginalURL string    `json:"originalUrl"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	ImageType   string    `json:"imageType"`
	PublishedAt time.Time `json:"publishedAt"`
	Views       int       `json:"views"`
	Urgent      bool      `json:"urgent"`
}

// DocumentFor converts a candidate to its wire form.
func DocumentFor(c news.Candidate) Document {
	return Document{
		ID:          c.ID,
		SourceID:    c.SourceID,
		SourceName:  c.SourceName,
		OriginalURL: c.OriginalURL,
		Title:       c.Title,
		Summary:     c.Summary,
		Content:     c.Content,
		Tags:        c.Tags,
		ImageURL:    c.ImageURL,
		ImageType:   string(c.ImageType),
		PublishedAt: c.PublishedAt.UTC(),
		Views:       c.Views,
		Urgent:      c.Urgent,
	}
}

// Multi fans a batch out to several sinks. One sink failing does not stop
// the others.
type Multi struct {
	sinks []Sink
	log   *slog.Logger
}

// NewMulti wraps sinks; nil entries are skipped.
func NewMulti(log *slog.Logger, sinks ...Sink) *Multi {
	m := &Multi{log: log}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len reports how many sinks are configured.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Name() string { return "multi" }

// Publish sends items to every sink and joins their errors.
func (m *Multi) Publish(ctx context.Context, items []news.Candidate) error {
	if len(items) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, items); err != nil {
			m.log.Warn("sink publish failed", "sink", s.Name(), "items", len(items), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		m.log.Debug("sink published", "sink", s.Name(), "items", len(items))
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the sinks enabled in cfg. A sink is enabled when its
// address is set.
func FromConfig(cfg config.Sinks, log *slog.Logger) (*Multi, error) {
	var sinks []Sink
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		sinks = append(sinks, NewKafkaSink(cfg.Kafka))
		log.Info("kafka sink enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	if cfg.Elasticsearch.Addr != "" {
		es, err := NewElasticsearchSink(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, es)
		log.Info("elasticsearch sink enabled", "addr", cfg.Elasticsearch.Addr, "index", cfg.Elasticsearch.Index)
	}
	return NewMulti(log, sinks...), nil
}
