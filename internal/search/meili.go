package search

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	log "github.com/sirupsen/logrus"

	"verse/api/internal/posts"
)

const idxPosts = "verse_posts"

// Meili mirrors published posts into a Meilisearch index for ranked
// full-text search over the same fields the in-process engine
// matches on.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the posts
// index. The service degrades to the in-process engine whenever the
// instance is unreachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warnf("search: meilisearch unavailable at %s: %v", url, err)
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
		Uid:        idxPosts,
		PrimaryKey: "id",
	}); err != nil {
		log.Warnf("search: create index %s (may already exist): %v", idxPosts, err)
	}

	index := m.client.Index(idxPosts)
	searchable := []string{"title", "authorName", "keywords", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warnf("search: update searchable attrs: %v", err)
	}
	filterable := []interface{}{"authorId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warnf("search: update filterable attrs: %v", err)
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
				log.Info("search: meilisearch recovered, reconfiguring index")
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

// IndexPost adds or updates a post in the index.
func (m *Meili) IndexPost(post posts.Post) error {
	_, err := m.client.Index(idxPosts).AddDocuments([]posts.Post{post}, nil)
	return err
}

// SearchIDs returns the ids of posts matching query, ranked.
func (m *Meili) SearchIDs(query string, limit int64) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit == 0 {
		limit = 50
	}

	resp, err := m.client.Index(idxPosts).Search(query, &meili.SearchRequest{Limit: limit})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := hitID(hit); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func hitID(hit meili.Hit) string {
	raw, ok := hit["id"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}
