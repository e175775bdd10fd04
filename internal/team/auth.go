// Package team implements team authentication and policy enforcement
// (spec §4.7): identifying which team a request belongs to from its
// credential, and checking that team's policy against the router/model
// it's trying to reach.
package team

import (
	"net/http"
	"strings"

	"github.com/cregis/apex/internal/config"
	apexerrors "github.com/cregis/apex/internal/errors"
)

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	TeamID string
	Policy config.TeamPolicy
}

// Authenticator resolves the team identity for an inbound request from
// its credential header, and separately enforces legacy per-router vkey
// auth when no teams are configured.
type Authenticator struct {
	cfg *config.Config
}

// New builds an Authenticator bound to a config snapshot. Callers fetch
// a fresh Authenticator per request from the current config.Store
// snapshot, so a reload is visible on the very next request.
func New(cfg *config.Config) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Authenticate resolves the caller against global auth, then team
// credentials, then (if teams are unconfigured) the router's legacy vkey.
// It returns the matched team identity, or nil if the request
// authenticates only against a router's vkey or global auth allows it
// through unauthenticated.
func (a *Authenticator) Authenticate(r *http.Request, routerName string) (*Identity, *apexerrors.APIError) {
	if err := a.checkGlobalAuth(r); err != nil {
		return nil, err
	}

	cred := extractCredential(r)

	if len(a.cfg.Teams) > 0 {
		if cred == "" {
			return nil, apexerrors.ErrUnauthorized.WithDetails("missing team credential")
		}
		for i := range a.cfg.Teams {
			t := &a.cfg.Teams[i]
			if t.APIKey == cred {
				return &Identity{TeamID: t.ID, Policy: t.Policy}, nil
			}
		}
		return nil, apexerrors.ErrUnauthorized.WithDetails("no team matches the supplied credential")
	}

	router := a.cfg.RouterByName(routerName)
	if router != nil && router.VKey != "" {
		if cred != router.VKey {
			return nil, apexerrors.ErrUnauthorized.WithDetails("invalid vkey for router " + routerName)
		}
	}
	return nil, nil
}

// checkGlobalAuth enforces config.global_auth ahead of team/vkey
// resolution (spec §4.7 — global auth gates every request first).
func (a *Authenticator) checkGlobalAuth(r *http.Request) *apexerrors.APIError {
	if a.cfg.GlobalAuth.Mode != "api_key" {
		return nil
	}
	cred := extractCredential(r)
	for _, k := range a.cfg.GlobalAuth.Keys {
		if cred == k {
			return nil
		}
	}
	return apexerrors.ErrUnauthorized.WithDetails("invalid or missing global API key")
}

// extractCredential reads the caller's credential from Authorization:
// Bearer first, falling back to X-Api-Key (spec §4.7 names both forms).
func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		if strings.HasPrefix(auth, "bearer ") {
			return strings.TrimPrefix(auth, "bearer ")
		}
	}
	return r.Header.Get("X-Api-Key")
}

// CheckPolicy enforces the team's router and model allow-lists. A team
// with an empty AllowedRouters list is denied every router (spec §4.7 —
// access is opt-in, never wildcard-by-omission).
func CheckPolicy(identity *Identity, routerName, model string) *apexerrors.APIError {
	if identity == nil {
		return nil // vkey-only or unauthenticated routers carry no team policy
	}
	if !identity.Policy.RouterAllowed(routerName) {
		return apexerrors.ErrForbidden.WithDetails("team is not permitted to use router " + routerName)
	}
	if !identity.Policy.ModelAllowed(model) {
		return apexerrors.ErrForbidden.WithDetails("team is not permitted to use model " + model)
	}
	return nil
}
