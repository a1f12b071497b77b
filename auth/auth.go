// Package auth provides OIDC and local authentication for the query builder.
// Every authenticated user may read templates; only editors may change them.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/msteinert/pam/v2"
	"golang.org/x/oauth2"

	"corpus_dashboard/config"
)

// ContextKey is a type for context keys used by the auth package.
type ContextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey ContextKey = "auth_user"

	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "cqb_session"

	// OriginalURLCookieName stores the URL the user was trying to access.
	OriginalURLCookieName = "cqb_original_url"

	// DefaultSessionDuration is the default session lifetime.
	DefaultSessionDuration = 24 * time.Hour

	// StateExpiry is how long OIDC state tokens are valid.
	StateExpiry = 10 * time.Minute

	localRealm = `Basic realm="Corpus Query Builder (Local)"`
)

// User represents an authenticated user.
type User struct {
	ID      string   `json:"id"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Groups  []string `json:"groups"`
	CanEdit bool     `json:"can_edit"`
}

// DisplayName returns the best human-readable identifier for the user.
func (u *User) DisplayName() string {
	switch {
	case u == nil:
		return ""
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	}
	return u.ID
}

// Session represents a user session.
type Session struct {
	User      *User
	ExpiresAt time.Time
}

// SessionStore manages user sessions in memory.
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionStore creates a new session store.
func NewSessionStore() *SessionStore {
	store := &SessionStore{
		sessions: make(map[string]*Session),
	}
	go store.cleanupExpired()
	return store
}

// Set stores a session.
func (s *SessionStore) Set(id string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, false
	}
	return session, true
}

// Delete removes a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// cleanupExpired periodically removes expired sessions.
func (s *SessionStore) cleanupExpired() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for id, session := range s.sessions {
			if now.After(session.ExpiresAt) {
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
	}
}

// StateStore manages OIDC state tokens. Each token validates once.
type StateStore struct {
	states map[string]time.Time
	mu     sync.Mutex
}

// NewStateStore creates a new state store.
func NewStateStore() *StateStore {
	store := &StateStore{
		states: make(map[string]time.Time),
	}
	go store.cleanupExpired()
	return store
}

// Set stores a state token.
func (s *StateStore) Set(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = time.Now().Add(StateExpiry)
}

// Validate checks if a state token is valid and removes it.
func (s *StateStore) Validate(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(expiry)
}

// cleanupExpired periodically removes expired states.
func (s *StateStore) cleanupExpired() {
	ticker := time.NewTicker(1 * time.Minute)
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for state, expiry := range s.states {
			if now.After(expiry) {
				delete(s.states, state)
			}
		}
		s.mu.Unlock()
	}
}

// Provider handles OIDC authentication and local basic auth.
type Provider struct {
	config         *config.OIDCConfig
	oauth2Config   *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	sessions       *SessionStore
	states         *StateStore
	groupsClaim    string
	editorGroup    string
	serviceURLHost string          // hostname from service_url for Host header comparison
	localEditors   map[string]bool // users allowed to log in from local hostnames

	// checkPassword verifies local credentials; PAM unless replaced in tests.
	checkPassword func(username, password string) error
}

// NewProvider creates a new OIDC provider.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig, localCfg *config.LocalConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("OIDC config is nil")
	}

	// Fetch the discovery document from the exact config_url given.
	discoveryDoc, err := fetchDiscoveryDocument(ctx, cfg.ConfigURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC discovery document at %s: %w", cfg.ConfigURL, err)
	}

	provider, err := oidc.NewProvider(ctx, discoveryDoc.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider for issuer %s: %w", discoveryDoc.Issuer, err)
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  strings.TrimSuffix(cfg.ServiceURL, "/") + cfg.Callback,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email", "groups"},
	}

	p := newProvider(cfg, localCfg)
	p.oauth2Config = oauth2Config
	p.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return p, nil
}

// newProvider builds the parts of a Provider that need no network access.
func newProvider(cfg *config.OIDCConfig, localCfg *config.LocalConfig) *Provider {
	groupsClaim := cfg.GroupsClaim
	if groupsClaim == "" {
		groupsClaim = "groups"
	}
	editorGroup := cfg.EditorGroup
	if editorGroup == "" {
		editorGroup = config.DefaultEditorGroup
	}

	localEditors := make(map[string]bool)
	for _, name := range localCfg.EditorList() {
		localEditors[name] = true
	}

	return &Provider{
		config:         cfg,
		sessions:       NewSessionStore(),
		states:         NewStateStore(),
		groupsClaim:    groupsClaim,
		editorGroup:    editorGroup,
		serviceURLHost: extractHostname(cfg.ServiceURL),
		localEditors:   localEditors,
		checkPassword:  validatePAMAuth,
	}
}

// CallbackPath returns the path the identity provider redirects back to.
func (p *Provider) CallbackPath() string {
	if p.config.Callback == "" {
		return "/oidc/callback"
	}
	return p.config.Callback
}

// discoveryDocument represents the OIDC discovery document.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// fetchDiscoveryDocument fetches and parses the OIDC discovery document from the given URL.
func fetchDiscoveryDocument(ctx context.Context, configURL string) (*discoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", configURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: %s", resp.Status, string(body))
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if doc.Issuer == "" {
		return nil, fmt.Errorf("discovery document missing issuer")
	}

	return &doc, nil
}

// validatePAMAuth validates a username and password using PAM.
func validatePAMAuth(username, password string) error {
	t, err := pam.StartFunc("login", username, func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOff:
			return password, nil
		case pam.PromptEchoOn:
			return username, nil
		case pam.ErrorMsg, pam.TextInfo:
			return "", nil
		default:
			return "", fmt.Errorf("unrecognized PAM message style: %v", s)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start PAM transaction: %w", err)
	}
	defer t.End()

	if err := t.Authenticate(0); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if err := t.AcctMgmt(0); err != nil {
		return fmt.Errorf("account validation failed: %w", err)
	}

	return nil
}

// extractHostname extracts the lower-cased hostname from a URL string.
func extractHostname(urlStr string) string {
	host := urlStr
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	return stripPort(strings.ToLower(host))
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host, "[") {
		return host[:idx]
	}
	return host
}

// isLocalAccess checks if the request is coming from a local hostname (not the service_url).
func (p *Provider) isLocalAccess(r *http.Request) bool {
	return stripPort(strings.ToLower(r.Host)) != p.serviceURLHost
}

// generateRandomString generates a cryptographically secure random string.
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}

// safeRedirect keeps post-login redirects on this site.
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	return target
}

// LoginHandler initiates the OIDC login flow.
func (p *Provider) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := generateRandomString(32)
	if err != nil {
		log.Printf("Failed to generate state: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	p.states.Set(state)

	http.SetCookie(w, &http.Cookie{
		Name:     OriginalURLCookieName,
		Value:    safeRedirect(r.URL.Query().Get("redirect")),
		Path:     "/",
		HttpOnly: true,
		Secure:   strings.HasPrefix(p.config.ServiceURL, "https"),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(StateExpiry.Seconds()),
	})

	http.Redirect(w, r, p.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the OIDC callback.
func (p *Provider) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !p.states.Validate(r.URL.Query().Get("state")) {
		log.Printf("Invalid OIDC state")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		errDesc := r.URL.Query().Get("error_description")
		log.Printf("OIDC error: %s - %s", errParam, errDesc)
		http.Error(w, fmt.Sprintf("Authentication error: %s", errDesc), http.StatusUnauthorized)
		return
	}

	token, err := p.oauth2Config.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		log.Printf("Failed to exchange code: %v", err)
		http.Error(w, "Failed to exchange authorization code", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		log.Printf("No ID token in response")
		http.Error(w, "No ID token in response", http.StatusInternalServerError)
		return
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		log.Printf("Failed to verify ID token: %v", err)
		http.Error(w, "Failed to verify ID token", http.StatusUnauthorized)
		return
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		log.Printf("Failed to extract claims: %v", err)
		http.Error(w, "Failed to extract claims", http.StatusInternalServerError)
		return
	}

	user := p.buildUserFromClaims(claims)
	if err := p.startSession(w, user, strings.HasPrefix(p.config.ServiceURL, "https")); err != nil {
		log.Printf("Failed to generate session ID: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	log.Printf("User %s (%s) logged in (editor: %v)", user.Email, user.ID, user.CanEdit)

	originalURL := "/"
	if cookie, err := r.Cookie(OriginalURLCookieName); err == nil {
		originalURL = safeRedirect(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     OriginalURLCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.Redirect(w, r, originalURL, http.StatusTemporaryRedirect)
}

// startSession stores a new session for user and sets its cookie.
func (p *Provider) startSession(w http.ResponseWriter, user *User, secure bool) error {
	sessionID, err := generateRandomString(64)
	if err != nil {
		return err
	}
	p.sessions.Set(sessionID, &Session{
		User:      user,
		ExpiresAt: time.Now().Add(DefaultSessionDuration),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(DefaultSessionDuration.Seconds()),
	})
	return nil
}

// buildUserFromClaims extracts user information from ID token claims.
func (p *Provider) buildUserFromClaims(claims map[string]interface{}) *User {
	user := &User{}

	if sub, ok := claims["sub"].(string); ok {
		user.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		user.Name = name
	} else if preferredUsername, ok := claims["preferred_username"].(string); ok {
		user.Name = preferredUsername
	}

	user.Groups = claimStrings(claims[p.groupsClaim])
	for _, g := range user.Groups {
		if strings.EqualFold(g, p.editorGroup) {
			user.CanEdit = true
			break
		}
	}

	return user
}

// claimStrings reads a claim that may be a single string or a list of strings.
func claimStrings(v interface{}) []string {
	switch c := v.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []string{c}
	case []interface{}:
		var out []string
		for _, item := range c {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// LogoutHandler handles user logout.
func (p *Provider) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		p.sessions.Delete(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	log.Printf("User logged out")
	http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
}

// Status is the JSON body returned by the status handlers.
type Status struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
	AuthEnabled   bool  `json:"auth_enabled"`
	LocalAccess   bool  `json:"local_access"`
	CanEdit       bool  `json:"can_edit"`
}

// StatusHandler returns the current authentication status as JSON.
func (p *Provider) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status := Status{
		AuthEnabled: true,
		LocalAccess: p.isLocalAccess(r),
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if session, ok := p.sessions.Get(cookie.Value); ok {
			status.Authenticated = true
			status.User = session.User
			status.CanEdit = session.User.CanEdit
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Middleware returns HTTP middleware that requires authentication.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, ok := p.sessionFromRequest(r); ok {
			ctx := context.WithValue(r.Context(), UserContextKey, session.User)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if p.isLocalAccess(r) {
			p.handleLocalAuth(w, r, next)
			return
		}

		p.handleUnauthorized(w, r)
	})
}

func (p *Provider) sessionFromRequest(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, false
	}
	return p.sessions.Get(cookie.Value)
}

// handleLocalAuth authenticates a request from a local hostname with basic
// auth. Only configured local editors may log in this way.
func (p *Provider) handleLocalAuth(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if len(p.localEditors) == 0 {
		log.Printf("Local access attempted from %s but no local editors configured", r.Host)
		http.Error(w, "Local access not configured", http.StatusForbidden)
		return
	}

	username, password, hasAuth := r.BasicAuth()
	if !hasAuth {
		w.Header().Set("WWW-Authenticate", localRealm)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if !p.localEditors[username] {
		log.Printf("Local auth failed: user %s not in local editors list", username)
		w.Header().Set("WWW-Authenticate", localRealm)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := p.checkPassword(username, password); err != nil {
		log.Printf("Local auth failed for user %s: %v", username, err)
		w.Header().Set("WWW-Authenticate", localRealm)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	user := &User{
		ID:      "local:" + username,
		Name:    username,
		Email:   username + "@localhost",
		Groups:  []string{"local", p.editorGroup},
		CanEdit: true,
	}
	if err := p.startSession(w, user, false); err != nil {
		log.Printf("Failed to generate session ID for local user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	log.Printf("Local user %s authenticated from %s", username, r.Host)

	ctx := context.WithValue(r.Context(), UserContextKey, user)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// handleUnauthorized answers API requests with 401 and redirects pages to login.
func (p *Provider) handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	http.Redirect(w, r, "/login?redirect="+r.URL.RequestURI(), http.StatusTemporaryRedirect)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireEditor rejects requests from authenticated users who may not edit.
// Requests without a user pass through: that only happens when authentication
// is disabled, in which case everyone is an editor.
func RequireEditor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := GetUserFromContext(r.Context()); user != nil && !user.CanEdit {
			writeJSONError(w, http.StatusForbidden, "editor role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *User {
	if user, ok := ctx.Value(UserContextKey).(*User); ok {
		return user
	}
	return nil
}

// NoAuthStatusHandler returns auth status when authentication is not configured.
func NoAuthStatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Status{
		Authenticated: true,
		AuthEnabled:   false,
		CanEdit:       true,
	})
}
