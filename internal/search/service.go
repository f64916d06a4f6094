package search

import (
	log "github.com/sirupsen/logrus"

	"verse/api/internal/posts"
)

// Service fronts discovery queries: Meilisearch when configured and
// healthy, the in-process engine otherwise. Writer aggregation is
// always computed locally over the live list.
type Service struct {
	meili *Meili
}

// NewService creates a search service. meili may be nil when
// Meilisearch is not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Search filters the live post list for query. The post list is the
// authoritative corpus; Meilisearch only contributes ranking, so a
// hit that has vanished from the live list is dropped rather than
// resurrected.
func (s *Service) Search(query string, list []posts.Post) Response {
	writers := MatchWriters(query, list)

	if s.meili != nil && s.meili.Healthy() && query != "" {
		ids, err := s.meili.SearchIDs(query, int64(len(list)))
		if err == nil {
			byID := make(map[string]posts.Post, len(list))
			for _, post := range list {
				byID[post.ID] = post
			}
			ranked := make([]posts.Post, 0, len(ids))
			for _, id := range ids {
				if post, ok := byID[id]; ok {
					ranked = append(ranked, post)
				}
			}
			return Response{Posts: ranked, Writers: writers, Query: query}
		}
		log.Warnf("search: meilisearch error, falling back to local engine: %v", err)
	}

	return Response{Posts: FilterPosts(query, list), Writers: writers, Query: query}
}

// IndexPost mirrors a published post into Meilisearch,
// fire-and-forget.
func (s *Service) IndexPost(post posts.Post) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPost(post); err != nil {
			log.Warnf("search: index post %s: %v", post.ID, err)
		}
	}()
}
