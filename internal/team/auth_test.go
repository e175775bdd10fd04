package team

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cregis/apex/internal/config"
)

func testCfg() *config.Config {
	raw := &config.Config{
		Channels: []config.Channel{{Name: "c", ProviderType: "openai", BaseURL: "https://api.openai.com/v1"}},
		Routers: []config.Router{
			{Name: "default", Channel: "c"},
			{Name: "locked", VKey: "router-secret", Channel: "c"},
		},
		Teams: []config.Team{
			{ID: "team-a", APIKey: "team-a-key", Policy: config.TeamPolicy{AllowedRouters: []string{"default"}, AllowedModels: []string{"gpt-4*"}}},
		},
	}
	cfg, err := config.Compile(raw)
	if err != nil {
		panic(err)
	}
	return cfg
}

func reqWithBearer(token string) *http.Request {
	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthenticateMatchesTeamByBearer(t *testing.T) {
	a := New(testCfg())
	id, err := a.Authenticate(reqWithBearer("team-a-key"), "default")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id == nil || id.TeamID != "team-a" {
		t.Fatalf("expected team-a identity, got %+v", id)
	}
}

func TestAuthenticateMatchesTeamByXAPIKeyHeader(t *testing.T) {
	a := New(testCfg())
	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set("X-Api-Key", "team-a-key")
	id, err := a.Authenticate(r, "default")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id == nil || id.TeamID != "team-a" {
		t.Fatalf("expected team-a identity, got %+v", id)
	}
}

func TestAuthenticateRejectsUnknownCredentialWhenTeamsConfigured(t *testing.T) {
	a := New(testCfg())
	_, err := a.Authenticate(reqWithBearer("not-a-real-key"), "default")
	if err == nil {
		t.Fatal("expected unauthorized error")
	}
	if err.Code != "unauthorized" {
		t.Errorf("code = %q", err.Code)
	}
}

func TestAuthenticateRejectsMissingCredentialWhenTeamsConfigured(t *testing.T) {
	a := New(testCfg())
	_, err := a.Authenticate(reqWithBearer(""), "default")
	if err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func TestAuthenticateFallsBackToVKeyWhenNoTeamsConfigured(t *testing.T) {
	raw := &config.Config{
		Channels: []config.Channel{{Name: "c", ProviderType: "openai", BaseURL: "https://api.openai.com/v1"}},
		Routers:  []config.Router{{Name: "locked", VKey: "router-secret", Channel: "c"}},
	}
	cfg, err := config.Compile(raw)
	if err != nil {
		t.Fatal(err)
	}
	a := New(cfg)

	if _, err := a.Authenticate(reqWithBearer("router-secret"), "locked"); err != nil {
		t.Fatalf("expected vkey to authenticate, got %v", err)
	}
	if _, err := a.Authenticate(reqWithBearer("wrong"), "locked"); err == nil {
		t.Fatal("expected vkey mismatch to be rejected")
	}
}

func TestCheckPolicyEnforcesAllowedRoutersAndModels(t *testing.T) {
	id := &Identity{TeamID: "team-a", Policy: config.TeamPolicy{AllowedRouters: []string{"default"}}}

	cfg := testCfg()
	policy := cfg.Teams[0].Policy // compiled, with compiledAllowedModels populated

	if err := CheckPolicy(&Identity{TeamID: "team-a", Policy: policy}, "default", "gpt-4-turbo"); err != nil {
		t.Errorf("expected gpt-4-turbo to be allowed, got %v", err)
	}
	if err := CheckPolicy(&Identity{TeamID: "team-a", Policy: policy}, "default", "claude-3"); err == nil {
		t.Error("expected claude-3 to be forbidden")
	}
	if err := CheckPolicy(id, "other-router", "gpt-4"); err == nil {
		t.Error("expected other-router to be forbidden")
	}
}

func TestCheckPolicyNilIdentityIsUnrestricted(t *testing.T) {
	if err := CheckPolicy(nil, "anything", "anything"); err != nil {
		t.Errorf("expected nil identity to pass through, got %v", err)
	}
}

func TestGlobalAuthRejectsWithoutValidAPIKey(t *testing.T) {
	raw := &config.Config{
		GlobalAuth: config.GlobalAuth{Mode: "api_key", Keys: []string{"global-secret"}},
		Channels:   []config.Channel{{Name: "c", ProviderType: "openai", BaseURL: "https://api.openai.com/v1"}},
		Routers:    []config.Router{{Name: "default", Channel: "c"}},
	}
	cfg, err := config.Compile(raw)
	if err != nil {
		t.Fatal(err)
	}
	a := New(cfg)

	if _, err := a.Authenticate(reqWithBearer("global-secret"), "default"); err != nil {
		t.Fatalf("expected global key to authenticate, got %v", err)
	}
	if _, err := a.Authenticate(reqWithBearer("wrong"), "default"); err == nil {
		t.Fatal("expected invalid global key to be rejected")
	}
}
