package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verse/api/internal/gate"
	"verse/api/internal/identity"
	"verse/api/internal/monitoring"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		metrics:    promhttp.Handler(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return monitoring.Middleware(gate.Middleware(s.withCORS(http.HandlerFunc(s.handle))))
}

func (s *HTTPServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/federated" {
		s.handleSignInFederated(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		s.service.SignOut()
		gate.Mirror(w, nil)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/methods" {
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		methods, err := s.service.Provider().ListSignInMethods(r.Context(), email)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"methods": methods})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if err := s.service.Provider().VerifyEmail(r.Context(), body.Token); err != nil {
			writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Email verified successfully"})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		var body struct {
			Token       string `json:"token"`
			NewPassword string `json:"newPassword"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if err := s.service.Provider().ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		s.handleSession(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/posts" {
		writeJSON(w, http.StatusOK, map[string]any{"posts": s.service.FeedPosts()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/posts" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		post, err := s.service.CreatePost(r.Context(), session, body.Title, body.Content)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"post": post})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := r.URL.Query().Get("q")
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		stats, err := s.service.Dashboard(r.Context(), session)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/feed/live" {
		s.handleFeedLive(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "posts" && r.Method == http.MethodGet {
		s.handlePostDetails(w, r, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "comments" && r.Method == http.MethodPost {
		s.handleAddComment(w, r, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "like" && r.Method == http.MethodPost {
		s.handleToggleLike(w, r, parts[2])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "writers" && r.Method == http.MethodGet {
		name, writerPosts := s.service.WriterProfile(parts[2])
		writeJSON(w, http.StatusOK, map[string]any{
			"writerId":   parts[2],
			"writerName": name,
			"posts":      writerPosts,
		})
		return
	}

	if r.Method == http.MethodGet && s.handlePage(w, r.URL.Path) {
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ok := true
	checks := make(map[string]any)
	for name, err := range s.service.Ready(r.Context()) {
		if err != nil {
			ok = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks[name] = map[string]any{"status": "ok"}
		}
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": ok, "checks": checks})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "verified": false})
		return
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "verified": false})
		return
	}
	authenticated, verified := gate.Flags(&session)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": authenticated,
		"verified":      verified,
		"session":       session,
	})
}

func (s *HTTPServer) handlePostDetails(w http.ResponseWriter, r *http.Request, postID string) {
	post, thread, found, err := s.service.PostDetails(r.Context(), postID)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Post not found")
		return
	}

	liked := false
	if token := bearerToken(r); token != "" {
		if session, err := s.service.SessionFromToken(token); err == nil {
			liked, _ = s.service.Liked(r.Context(), session, postID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"post":     post,
		"comments": thread,
		"liked":    liked,
	})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, postID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	id, err := s.service.AddComment(r.Context(), session, postID, body.Text)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	if id == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Comment text is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *HTTPServer) handleToggleLike(w http.ResponseWriter, r *http.Request, postID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	result, err := s.service.ToggleLike(r.Context(), session, postID)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"committed": result.Committed,
		"liked":     result.Liked,
		"delta":     result.Delta,
	})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	session, token, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	gate.Mirror(w, &session)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "session": session})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	session, token, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	gate.Mirror(w, &session)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "session": session})
}

func (s *HTTPServer) handleSignInFederated(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject string `json:"subject"`
		Email   string `json:"email"`
		Name    string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	session, token, err := s.service.SignInFederated(r.Context(), body.Subject, body.Email, body.Name)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	gate.Mirror(w, &session)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "session": session})
}

func (s *HTTPServer) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	err := s.service.Provider().SendPasswordReset(r.Context(), body.Email)
	if err != nil && !errors.Is(err, identity.ErrNoAccount) {
		// Unknown accounts get the generic response below; other
		// classified failures (federated-only, malformed email) are
		// actionable and reported.
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "If an account exists, a reset email has been sent",
	})
}

// Page shells served behind the routing filter. The interesting part
// is the gate middleware in front of them, not the markup.
var pages = map[string]string{
	"/":          "Verse",
	"/login":     "Sign in to Verse",
	"/create":    "Create a post",
	"/profile":   "Your profile",
	"/dashboard": "Your dashboard",
	"/search":    "Search Verse",
	"/about":     "About Verse",
	"/contact":   "Contact Verse",
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, path string) bool {
	title, ok := pages[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><title>%s</title><div id=\"app\"></div>", title)
	return true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (identity.Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Please sign in to continue")
		return identity.Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return identity.Session{}, false
	}
	return session, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"code": code, "error": message})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
