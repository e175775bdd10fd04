// Package ingress wires the HTTP surface Apex exposes to clients (spec
// §4.9, §7): the OpenAI- and Anthropic-compatible endpoints, the
// catch-all raw proxy, and health/metrics. It binds team auth, policy,
// rate limiting, the Router Selector, the Load Balancer, and the
// Forwarder into one request pipeline per route.
package ingress

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/cregis/apex/internal/adapter"
	"github.com/cregis/apex/internal/config"
	apexerrors "github.com/cregis/apex/internal/errors"
	"github.com/cregis/apex/internal/forwarder"
	"github.com/cregis/apex/internal/metrics"
	"github.com/cregis/apex/internal/ratelimit"
	"github.com/cregis/apex/internal/router"
	"github.com/cregis/apex/internal/team"
)

func init() {
	uuid.EnableRandPool()
}

// Server assembles the request pipeline and exposes it as an
// http.Handler via httprouter, per the fixed path set spec §7 names.
type Server struct {
	store     *config.Store
	selector  *router.Selector
	forwarder *forwarder.Forwarder
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// New builds the ingress Server. store is the hot-reloadable config
// snapshot source; every request reads store.Current() fresh, so a
// reload takes effect on the very next inbound request.
func New(store *config.Store, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	client := &http.Client{Timeout: 0} // per-attempt timeouts are applied by the Forwarder itself
	return &Server{
		store:     store,
		selector:  router.NewSelector(),
		forwarder: forwarder.New(client, m, log),
		limiter:   ratelimit.New(),
		metrics:   m,
		log:       log,
	}
}

// Handler returns the full HTTP handler: request-ID assignment, panic
// recovery, access logging, then route dispatch.
func (s *Server) Handler() http.Handler {
	mux := httprouter.New()

	mux.POST("/v1/chat/completions", s.routeWithName("default"))
	mux.POST("/chat/completions", s.routeWithName("default"))
	mux.POST("/v1/completions", s.routeWithName("default"))
	mux.POST("/v1/embeddings", s.routeWithName("default"))
	mux.GET("/v1/models", s.handleModels)
	mux.GET("/models", s.handleModels)
	mux.POST("/v1/messages", s.routeWithName("default"))
	mux.Handle(http.MethodGet, "/proxy/:router/*rest", s.handleProxy)
	mux.Handle(http.MethodPost, "/proxy/:router/*rest", s.handleProxy)
	mux.Handle(http.MethodPut, "/proxy/:router/*rest", s.handleProxy)
	mux.Handle(http.MethodDelete, "/proxy/:router/*rest", s.handleProxy)
	mux.GET("/healthz", s.handleHealthz)
	mux.Handler(http.MethodGet, s.store.Current().Metrics.Path, s.metrics.Handler())

	return s.withRequestID(s.withRecovery(s.withAccessLog(mux)))
}

// routeWithName binds a literal documented endpoint to the "default"
// router — the only router name a bare /v1/... path can mean (spec §7;
// multi-router access goes through /proxy/{router_name}/...).
func (s *Server) routeWithName(routerName string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.serve(w, r, routerName, r.URL.Path, false)
	}
}

// handleProxy serves the raw /proxy/:router/*rest passthrough, which
// bypasses model-based routing entirely and uses the router's first
// rule's channels (spec §7).
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	routerName := ps.ByName("router")
	rest := ps.ByName("rest")
	s.serve(w, r, routerName, rest, true)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg := s.store.Current()
	names := cfg.LiteralModelNames()
	for _, ch := range cfg.Channels {
		for from := range ch.ModelMap {
			names = append(names, from)
		}
	}
	writeModelList(w, names)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// serve runs the shared pipeline: auth -> policy -> rate limit -> route
// selection -> load balancing -> forwarding. When bypassRouting is set
// (the raw /proxy/:router/*rest passthrough), route selection skips
// model matching and uses routerName's first rule directly (spec §7).
func (s *Server) serve(w http.ResponseWriter, r *http.Request, routerName, path string, bypassRouting bool) {
	cfg := s.store.Current()
	requestID := r.Header.Get("X-Request-ID")

	body, err := readBody(r, adapter.MaxBodySize)
	if err != nil {
		err.WithRequestID(requestID).WriteJSON(w)
		return
	}

	authn := team.New(cfg)
	identity, authErr := authn.Authenticate(r, routerName)
	if authErr != nil {
		authErr.WithRequestID(requestID).WriteJSON(w)
		return
	}

	model := modelFromBody(body)

	if err := team.CheckPolicy(identity, routerName, model); err != nil {
		err.WithRequestID(requestID).WriteJSON(w)
		return
	}

	if identity != nil && identity.Policy.RateLimit != nil {
		estimated := ratelimit.EstimateTokens(body)
		if err := s.limiter.Allow(identity.TeamID, identity.Policy.RateLimit, estimated); err != nil {
			err.WithRequestID(requestID).WriteJSON(w)
			return
		}
	}

	var selection router.Selection
	var selErr error
	if bypassRouting {
		selection, selErr = s.selector.SelectFirstRule(cfg, routerName)
	} else {
		selection, selErr = s.selector.Select(cfg, routerName, model)
	}
	if selErr != nil {
		apiErr, _ := apexerrors.As(selErr)
		if apiErr == nil {
			apiErr = apexerrors.ErrInternal.WithDetails(selErr.Error())
		}
		apiErr.WithRequestID(requestID).WriteJSON(w)
		return
	}
	s.metrics.RequestsTotal.WithLabelValues(routerName, model, "routed").Inc()

	order := selection.Strategy.Select(selection.Channels).Channels

	req := forwarder.Request{
		Router:       routerName,
		Model:        model,
		Protocol:     protocolFor(path),
		Method:       r.Method,
		Path:         path,
		RawQuery:     r.URL.RawQuery,
		Header:       r.Header,
		Body:         body,
		ChannelOrder: order,
	}

	ctx := r.Context()
	if cfg.Timeouts.RequestMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Timeouts.RequestMs)*time.Millisecond)
		defer cancel()
	}
	s.forwarder.Forward(ctx, w, req, cfg)
}

func protocolFor(path string) adapter.Protocol {
	if strings.Contains(path, "/messages") {
		return adapter.ProtocolAnthropic
	}
	return adapter.ProtocolOpenAI
}

// withRequestID assigns req-<uuid> when the client didn't supply one,
// and echoes it back on the response (spec §4.9).
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = "req-" + uuid.New().String()
		}
		r.Header.Set("X-Request-ID", id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// withRecovery converts a panic anywhere downstream into a 500 envelope
// instead of crashing the process.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic recovered", zap.Any("error", err), zap.ByteString("stack", debug.Stack()))
				apexerrors.ErrInternal.WithRequestID(r.Header.Get("X-Request-ID")).WriteJSON(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withAccessLog logs one structured line per request after it completes.
func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
