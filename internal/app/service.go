// Package app wires the site's components behind the HTTP surface.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"verse/api/internal/comments"
	"verse/api/internal/config"
	"verse/api/internal/identity"
	"verse/api/internal/likes"
	"verse/api/internal/posts"
	"verse/api/internal/search"
	"verse/api/internal/store"
)

// Service holds the wired components. Sessions are carried by access
// token per request; the process-wide manager mirrors the most recent
// session observation for change listeners.
type Service struct {
	cfg      config.Config
	store    store.Client
	feed     *posts.Feed
	likes    *likes.Service
	comments *comments.Service
	search   *search.Service
	provider *identity.Service
	sessions *identity.Manager
	tokens   *identity.TokenIssuer

	storePing func(ctx context.Context) error
	dbPing    func(ctx context.Context) error
}

func New(cfg config.Config, st store.Client, feed *posts.Feed, provider *identity.Service, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		feed:     feed,
		likes:    likes.NewService(st),
		comments: comments.NewService(st),
		search:   searchSvc,
		provider: provider,
		sessions: identity.NewManager(),
		tokens:   identity.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL),
	}
}

// WithReadiness installs the health checks reported by /api/ready.
func (s *Service) WithReadiness(storePing, dbPing func(ctx context.Context) error) *Service {
	s.storePing = storePing
	s.dbPing = dbPing
	return s
}

// Sessions exposes the process-wide session manager.
func (s *Service) Sessions() *identity.Manager {
	return s.sessions
}

// SessionFromToken resolves the session carried by an access token.
func (s *Service) SessionFromToken(token string) (identity.Session, error) {
	return s.tokens.Parse(token)
}

func (s *Service) issue(session identity.Session) (string, error) {
	token, err := s.tokens.Issue(session)
	if err != nil {
		return "", err
	}
	s.sessions.Set(&session)
	return token, nil
}

// SignUp registers a password account and opens a session.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (identity.Session, string, error) {
	session, err := s.provider.SignUp(ctx, email, password, displayName)
	if err != nil {
		return identity.Session{}, "", err
	}
	token, err := s.issue(session)
	return session, token, err
}

// SignIn authenticates a password account and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (identity.Session, string, error) {
	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return identity.Session{}, "", err
	}
	token, err := s.issue(session)
	return session, token, err
}

// SignInFederated opens a session from a federated provider's
// assertion.
func (s *Service) SignInFederated(ctx context.Context, subject, email, name string) (identity.Session, string, error) {
	session, err := s.provider.SignInFederated(ctx, subject, email, name)
	if err != nil {
		return identity.Session{}, "", err
	}
	token, err := s.issue(session)
	return session, token, err
}

// SignOut clears the process-wide session.
func (s *Service) SignOut() {
	s.sessions.Set(nil)
}

// Provider exposes the identity provider for the auxiliary auth
// endpoints (verification, reset, method listing).
func (s *Service) Provider() *identity.Service {
	return s.provider
}

// FeedPosts returns the live normalized feed, newest first.
func (s *Service) FeedPosts() []posts.Post {
	return s.feed.Posts()
}

// ListenFeed registers a feed listener; the returned func removes it.
func (s *Service) ListenFeed(fn func([]posts.Post)) func() {
	return s.feed.Listen(fn)
}

// CreatePost publishes a post for the session's user and mirrors it
// into the search index.
func (s *Service) CreatePost(ctx context.Context, session identity.Session, title, content string) (posts.Post, error) {
	author := posts.Author{ID: session.UserID, Name: session.Name()}
	id, err := posts.Publish(ctx, s.store, author, title, content)
	if err != nil {
		return posts.Post{}, err
	}

	raw, err := s.store.Read(ctx, "posts/"+id)
	if err != nil {
		return posts.Post{}, fmt.Errorf("read created post: %w", err)
	}
	post := posts.Normalize(id, raw)
	s.search.IndexPost(post)
	return post, nil
}

// PostDetails returns a post with its comment thread. found is false
// when the post does not exist.
func (s *Service) PostDetails(ctx context.Context, postID string) (posts.Post, []comments.Comment, bool, error) {
	raw, err := s.store.Read(ctx, "posts/"+postID)
	if err != nil {
		return posts.Post{}, nil, false, fmt.Errorf("read post %s: %w", postID, err)
	}
	if raw == nil {
		return posts.Post{}, nil, false, nil
	}

	thread, err := s.comments.List(ctx, postID)
	if err != nil {
		return posts.Post{}, nil, false, err
	}
	return posts.Normalize(postID, raw), thread, true, nil
}

// AddComment appends to a post's thread with the session's identity
// captured at write time.
func (s *Service) AddComment(ctx context.Context, session identity.Session, postID, text string) (string, error) {
	return s.comments.Add(ctx, postID, session.UserID, session.Name(), text)
}

// ToggleLike flips the session user's like edge on a post.
func (s *Service) ToggleLike(ctx context.Context, session identity.Session, postID string) (likes.Result, error) {
	return s.likes.Toggle(ctx, postID, session.UserID)
}

// Liked reports whether the session user currently likes a post.
func (s *Service) Liked(ctx context.Context, session identity.Session, postID string) (bool, error) {
	return s.likes.Liked(ctx, postID, session.UserID)
}

// Search runs a discovery query over the live feed.
func (s *Service) Search(query string) search.Response {
	return s.search.Search(query, s.feed.Posts())
}

// WriterProfile collects a writer's posts, newest first. Legacy posts
// without an author id match by case-insensitive author name.
func (s *Service) WriterProfile(writerID string) (string, []posts.Post) {
	matched := make([]posts.Post, 0)
	for _, post := range s.feed.Posts() {
		if post.AuthorID == writerID ||
			(post.AuthorID == "" && strings.EqualFold(post.AuthorName, writerID)) {
			matched = append(matched, post)
		}
	}

	name := writerID
	if len(matched) > 0 {
		name = matched[0].AuthorName
	}
	return name, matched
}

// DashboardStats summarizes the session user's publishing activity.
type DashboardStats struct {
	Posts         []posts.Post `json:"posts"`
	TotalPosts    int          `json:"totalPosts"`
	TotalLikes    int64        `json:"totalLikes"`
	TotalComments int          `json:"totalComments"`
}

// Dashboard selects the session user's posts by author id, falling
// back to display-name or email match for legacy posts, and totals
// their likes and comments.
func (s *Service) Dashboard(ctx context.Context, session identity.Session) (DashboardStats, error) {
	mine := make([]posts.Post, 0)
	for _, post := range s.feed.Posts() {
		if post.AuthorID != "" {
			if post.AuthorID == session.UserID {
				mine = append(mine, post)
			}
			continue
		}
		if strings.EqualFold(post.AuthorName, session.DisplayName) ||
			strings.EqualFold(post.AuthorName, session.Email) {
			mine = append(mine, post)
		}
	}

	stats := DashboardStats{Posts: mine, TotalPosts: len(mine)}
	myIDs := make(map[string]struct{}, len(mine))
	for _, post := range mine {
		stats.TotalLikes += post.LikeCount
		myIDs[post.ID] = struct{}{}
	}

	raw, err := s.store.Read(ctx, "comments")
	if err != nil {
		return DashboardStats{}, fmt.Errorf("read comments: %w", err)
	}
	if threads, ok := raw.(map[string]any); ok {
		for postID, thread := range threads {
			if _, ok := myIDs[postID]; !ok {
				continue
			}
			if entries, ok := thread.(map[string]any); ok {
				stats.TotalComments += len(entries)
			}
		}
	}
	return stats, nil
}

// Ready runs the installed readiness checks.
func (s *Service) Ready(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := make(map[string]error)
	if s.storePing != nil {
		checks["store"] = s.storePing(ctx)
	}
	if s.dbPing != nil {
		checks["database"] = s.dbPing(ctx)
	}
	return checks
}
