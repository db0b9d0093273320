package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

// ElasticSink indexes domain events as a security audit trail.
type ElasticSink struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
}

func NewElasticSink(es *elasticsearch.Client, index string, timeout time.Duration) *ElasticSink {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ElasticSink{es: es, index: index, timeout: timeout}
}

const auditMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "type":        {"type": "keyword"},
      "user_id":     {"type": "keyword"},
      "session_id":  {"type": "keyword"},
      "occurred_at": {"type": "date"},
      "data":        {"type": "object", "enabled": false}
    }
  }
}`

// EnsureIndex creates the audit index with keyword ids when it is missing.
// Search relies on user_id being a keyword.
func (s *ElasticSink) EnsureIndex(ctx context.Context) error {
	if s.es == nil || s.index == "" {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(c))
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithContext(c),
		s.es.Indices.Create.WithBody(strings.NewReader(auditMapping)),
	)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	// Another instance may have created it in the meantime.
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("create audit index: %s", res.Status())
	}
	return nil
}

type auditDoc struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id,omitempty"`
	OccurredAt string         `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publish indexes events in order and stops at the first failure.
func (s *ElasticSink) Publish(ctx context.Context, events []entity.Event) error {
	if s.es == nil || s.index == "" {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	for _, e := range events {
		doc := auditDoc{
			ID:         uuid.NewString(),
			Type:       string(e.Type),
			UserID:     e.UserID,
			SessionID:  e.SessionID,
			OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
			Data:       e.Data,
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		req := esapi.IndexRequest{Index: s.index, DocumentID: doc.ID, Body: bytes.NewReader(b), Refresh: "false"}
		res, err := req.Do(c, s.es)
		if err != nil {
			return err
		}
		status := res.Status()
		isErr := res.IsError()
		_ = res.Body.Close()
		if isErr {
			return fmt.Errorf("index audit event %s: %s", doc.Type, status)
		}
	}
	return nil
}

// Search returns the most recent audit documents of a user.
func (s *ElasticSink) Search(ctx context.Context, userID string, size int) ([]map[string]any, error) {
	if s.es == nil || s.index == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	query := map[string]any{
		"query": map[string]any{"term": map[string]any{"user_id": userID}},
		"sort":  []any{map[string]any{"occurred_at": map[string]any{"order": "desc"}}},
		"size":  size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Search(s.es.Search.WithContext(c), s.es.Search.WithIndex(s.index), s.es.Search.WithBody(bytes.NewReader(b)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return nil, fmt.Errorf("search audit events: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

var _ port.EventPublisher = (*ElasticSink)(nil)
