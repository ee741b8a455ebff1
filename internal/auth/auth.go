package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"doc-approval/backend/internal/config"
	"doc-approval/backend/pkg/models"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

// Headers read in DEV bypass mode instead of a token.
const (
	HeaderActorID = "X-Actor-ID"
	HeaderRole    = "X-Actor-Role"
	HeaderOrgID   = "X-Org-ID"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication with an Okta tenant, and resolves the workflow actor of
// each request.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	logger       Logger
	devMode      bool
	authBypass   bool
	roleClaim    string
	orgClaim     string
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares an
// ID token verifier.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	isDev := cfg.IsDev()
	shouldBypass := isDev && cfg.DevModeBypass

	var oauth2Config *oauth2.Config
	var verifier *oidc.IDTokenVerifier
	var apiVerifier *oidc.IDTokenVerifier

	if !shouldBypass {
		if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
			cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
			return nil, errors.New("auth configuration is incomplete")
		}

		provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
		if err != nil {
			return nil, err
		}

		oauth2Config = &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       AllScopes,
		}

		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})

		// Access tokens usually carry an API audience, not the client id.
		apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		apiVerifier:  apiVerifier,
		logger:       logger,
		devMode:      isDev,
		authBypass:   shouldBypass,
		roleClaim:    claimName(cfg.Auth.RoleClaim, "role"),
		orgClaim:     claimName(cfg.Auth.OrganizationClaim, "org_id"),
	}, nil
}

func claimName(configured, fallback string) string {
	if strings.TrimSpace(configured) == "" {
		return fallback
	}
	return configured
}

// LoginHandler initiates the OAuth2 authorization code flow by redirecting the
// user to the Okta authorization endpoint. A random state value is stored in a
// cookie to mitigate CSRF attacks.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the redirect back from Okta. It verifies the state
// parameter, exchanges the code for tokens, validates the ID token, and sets a
// session cookie containing the raw ID token.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth is middleware that resolves the calling actor and stores it in
// the request context. Bearer tokens are checked first, then the session
// cookie; a request with neither is redirected to the login page.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			actor models.Actor
			err   error
		)
		if a.authBypass {
			actor, err = bypassActor(r)
		} else {
			var token *oidc.IDToken
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			} else {
				cookie, cookieErr := r.Cookie("id_token")
				if cookieErr != nil {
					http.Redirect(w, r, "/login", http.StatusSeeOther)
					return
				}
				token, err = a.verifier.Verify(r.Context(), cookie.Value)
			}
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid token: "+err.Error())
				return
			}
			actor, err = a.actorFromToken(token)
		}
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("actor rejected", "path", r.URL.Path, "error", err)
			}
			deny(w, http.StatusForbidden, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (a *Auth) actorFromToken(token *oidc.IDToken) (models.Actor, error) {
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return models.Actor{}, fmt.Errorf("failed to parse token claims: %w", err)
	}

	email, _ := claims["email"].(string)
	id := email
	if id == "" {
		id = token.Subject
	}
	if id == "" {
		return models.Actor{}, errors.New("token carries no subject")
	}

	role, ok := roleFromClaim(claims[a.roleClaim])
	if !ok {
		return models.Actor{}, fmt.Errorf("no recognised workflow role in claim %q", a.roleClaim)
	}

	org, _ := claims[a.orgClaim].(string)
	if org == "" {
		// Fall back to the email domain as the organization.
		if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
			org = email[i+1:]
		}
	}
	return models.Actor{ID: id, Role: role, OrganizationID: org}, nil
}

// roleFromClaim accepts a single role or a list and returns the first one
// that maps onto a canonical role.
func roleFromClaim(v any) (models.Role, bool) {
	switch t := v.(type) {
	case string:
		return models.ParseRole(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				if role, ok := models.ParseRole(s); ok {
					return role, true
				}
			}
		}
	}
	return "", false
}

func bypassActor(r *http.Request) (models.Actor, error) {
	actor := models.Actor{
		ID:             strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Role:           models.RoleAdmin,
		OrganizationID: strings.TrimSpace(r.Header.Get(HeaderOrgID)),
	}
	if actor.ID == "" {
		actor.ID = "dev@localhost"
	}
	if actor.OrganizationID == "" {
		actor.OrganizationID = "localhost"
	}
	if raw := r.Header.Get(HeaderRole); raw != "" {
		role, ok := models.ParseRole(raw)
		if !ok {
			return models.Actor{}, fmt.Errorf("unknown role %q", raw)
		}
		actor.Role = role
	}
	return actor, nil
}

// deny answers in the same envelope the API uses for workflow errors.
func deny(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "unauthorized",
		"reason":  reason,
	})
}

// LogoutHandler clears the session cookie and redirects to the home page.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
