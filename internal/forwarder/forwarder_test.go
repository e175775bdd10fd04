package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cregis/apex/internal/adapter"
	"github.com/cregis/apex/internal/config"
	"github.com/cregis/apex/internal/metrics"
)

func testConfig(channels ...config.Channel) *config.Config {
	raw := &config.Config{
		Channels: channels,
		Routers: []config.Router{{
			Name: "default",
			Rules: []config.Rule{{
				Match:    config.MatchSpec{Model: "*"},
				Channels: []config.TargetChannel{{Channel: channels[0].Name}},
			}},
		}},
	}
	cfg, err := config.Compile(raw)
	if err != nil {
		panic(err)
	}
	cfg.Retries = config.Retries{MaxAttempts: 2, BackoffMs: 1}
	return cfg
}

func newForwarder() (*Forwarder, *metrics.Metrics) {
	m := metrics.New()
	return New(http.DefaultClient, m, nil), m
}

func TestForwardSucceedsOnFirstChannel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f, _ := newForwarder()
	cfg := testConfig(config.Channel{Name: "primary", ProviderType: "openai", BaseURL: upstream.URL})
	req := Request{
		Router: "default", Model: "gpt-4", Protocol: adapter.ProtocolOpenAI,
		Method: "POST", Path: "/chat/completions", Header: http.Header{},
		ChannelOrder: []string{"primary"},
	}

	rec := httptest.NewRecorder()
	f.Forward(context.Background(), rec, req, cfg)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestForwardFailsOverOnRetryableStatus(t *testing.T) {
	var primaryCalls int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&primaryCalls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer backup.Close()

	f, m := newForwarder()
	cfg := testConfig(
		config.Channel{Name: "primary", ProviderType: "openai", BaseURL: primary.URL},
		config.Channel{Name: "backup", ProviderType: "openai", BaseURL: backup.URL},
	)
	cfg.Retries = config.Retries{MaxAttempts: 1, BackoffMs: 1}
	req := Request{
		Router: "default", Model: "gpt-4", Protocol: adapter.ProtocolOpenAI,
		Method: "POST", Path: "/chat/completions", Header: http.Header{},
		ChannelOrder: []string{"primary", "backup"},
	}

	rec := httptest.NewRecorder()
	f.Forward(context.Background(), rec, req, cfg)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected failover to backup to succeed, got status %d", rec.Code)
	}
	if atomic.LoadInt64(&primaryCalls) != 1 {
		t.Errorf("expected exactly one attempt against primary, got %d", primaryCalls)
	}
	metricsReq := httptest.NewRequest("GET", "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, metricsReq)
	if !strings.Contains(metricsRec.Body.String(), "apex_fallback_total") {
		t.Error("expected apex_fallback_total to be registered and incremented")
	}
}

func TestForwardRetriesSameChannelBeforeFailover(t *testing.T) {
	var calls int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer primary.Close()

	f, _ := newForwarder()
	cfg := testConfig(config.Channel{Name: "primary", ProviderType: "openai", BaseURL: primary.URL})
	cfg.Retries = config.Retries{MaxAttempts: 2, BackoffMs: 1}
	req := Request{
		Router: "default", Model: "gpt-4", Protocol: adapter.ProtocolOpenAI,
		Method: "POST", Path: "/chat/completions", Header: http.Header{},
		ChannelOrder: []string{"primary"},
	}

	rec := httptest.NewRecorder()
	f.Forward(context.Background(), rec, req, cfg)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the second attempt to succeed, got status %d", rec.Code)
	}
	if atomic.LoadInt64(&calls) != 2 {
		t.Errorf("expected exactly 2 attempts against the same channel, got %d", calls)
	}
}

func TestForwardSurfacesErrorWhenAllChannelsExhausted(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	f, _ := newForwarder()
	cfg := testConfig(config.Channel{Name: "primary", ProviderType: "openai", BaseURL: primary.URL})
	cfg.Retries = config.Retries{MaxAttempts: 1, BackoffMs: 1}
	req := Request{
		Router: "default", Model: "gpt-4", Protocol: adapter.ProtocolOpenAI,
		Method: "POST", Path: "/chat/completions", Header: http.Header{},
		ChannelOrder: []string{"primary"},
	}

	rec := httptest.NewRecorder()
	f.Forward(context.Background(), rec, req, cfg)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected upstream_error (502) envelope, got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestForwardSkipsUnknownChannelName(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer primary.Close()

	f, _ := newForwarder()
	cfg := testConfig(config.Channel{Name: "primary", ProviderType: "openai", BaseURL: primary.URL})
	req := Request{
		Router: "default", Model: "gpt-4", Protocol: adapter.ProtocolOpenAI,
		Method: "POST", Path: "/chat/completions", Header: http.Header{},
		ChannelOrder: []string{"ghost", "primary"},
	}

	rec := httptest.NewRecorder()
	f.Forward(context.Background(), rec, req, cfg)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the real channel to be used, status = %d", rec.Code)
	}
}
