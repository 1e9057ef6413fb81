package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxSubmissions = "datahub_submissions"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the submissions index.
// The client starts unhealthy if the initial connection fails; the background
// health loop will reconfigure once the server comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSubmissions,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxSubmissions, err)
	}

	index := m.client.Index(idxSubmissions)
	filterable := []interface{}{"dataCommons", "status", "studyID"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxSubmissions, err)
	}
	searchable := []string{"name", "submitterName", "studyID"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxSubmissions, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
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
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the submissions index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"name"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	var filters []string
	if q.DataCommons != "" {
		filters = append(filters, fmt.Sprintf("dataCommons = %q", q.DataCommons))
	}
	if len(q.Statuses) > 0 {
		quoted := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		filters = append(filters, fmt.Sprintf("status IN [%s]", strings.Join(quoted, ", ")))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxSubmissions).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:            decodeString(hit, "id"),
		Name:          decodeString(hit, "name"),
		StudyID:       decodeString(hit, "studyID"),
		DataCommons:   decodeString(hit, "dataCommons"),
		SubmitterName: decodeString(hit, "submitterName"),
		Status:        decodeString(hit, "status"),
	}
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "name"), r.Name)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexSubmission adds or updates a submission in the search index.
func (m *Meili) IndexSubmission(rec SubmissionRecord) error {
	_, err := m.client.Index(idxSubmissions).AddDocuments([]SubmissionRecord{rec}, nil)
	return err
}

// DeleteSubmission removes a submission from the search index.
func (m *Meili) DeleteSubmission(id string) error {
	_, err := m.client.Index(idxSubmissions).DeleteDocument(id, nil)
	return err
}

// IndexSubmissions bulk-indexes submissions.
func (m *Meili) IndexSubmissions(records []SubmissionRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSubmissions).AddDocuments(records, nil)
	return err
}
