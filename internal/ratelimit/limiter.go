// Package ratelimit enforces per-team RPM/TPM budgets (spec §4.8): one
// request-rate bucket and one token-rate bucket per team, each a
// golang.org/x/time/rate limiter lazily created on first use and kept
// until the team's configured limits change (a config reload that changes
// a team's limits gets fresh buckets the next time that team is seen).
package ratelimit

import (
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/cregis/apex/internal/config"
	apexerrors "github.com/cregis/apex/internal/errors"
)

// estimateTokensDivisor approximates tokens-per-byte for the pre-flight
// token estimate (spec §4.8 — "roughly 4 characters per token" is the
// heuristic named, not an exact tokenizer call).
const estimateTokensDivisor = 4

type teamBuckets struct {
	rpm    *rate.Limiter
	tpm    *rate.Limiter
	limits config.RateLimit // the policy the buckets were built from
}

// Limiter holds one teamBuckets per team ID.
type Limiter struct {
	mu    sync.Mutex
	teams map[string]*teamBuckets
}

// New returns an empty Limiter. Buckets are created lazily per team ID.
func New() *Limiter {
	return &Limiter{teams: make(map[string]*teamBuckets)}
}

// EstimateTokens returns the pre-flight token estimate for an outbound
// request body: max(1, len(body)/4).
func EstimateTokens(body []byte) int {
	n := len(body) / estimateTokensDivisor
	if n < 1 {
		return 1
	}
	return n
}

// Allow checks the team's RPM and TPM buckets before a request is
// forwarded. A zero or absent rate.RPM/TPM means unlimited for that
// axis (spec §4.8). estimatedTokens is reserved from the TPM bucket
// immediately; Reconcile corrects the reservation once the real usage
// is known from the response body.
func (l *Limiter) Allow(teamID string, policy *config.RateLimit, estimatedTokens int) *apexerrors.APIError {
	if policy == nil {
		return nil
	}
	b := l.bucketsFor(teamID, policy)

	if b.rpm != nil && !b.rpm.Allow() {
		return apexerrors.ErrRateLimited.WithRetryAfter(int(retryAfter(b.rpm))).WithDetails("request rate limit exceeded")
	}
	if b.tpm != nil {
		reservation := b.tpm.ReserveN(time.Now(), estimatedTokens)
		if !reservation.OK() {
			return apexerrors.ErrRateLimited.WithDetails("requested token estimate exceeds the team's token budget")
		}
		delay := reservation.Delay()
		if delay > 0 {
			reservation.Cancel()
			return apexerrors.ErrRateLimited.WithRetryAfter(int(delay.Seconds()) + 1).WithDetails("token rate limit exceeded")
		}
	}
	return nil
}

// Reconcile adjusts the TPM bucket once the upstream response reports
// actual usage: if the real token count exceeds the pre-flight
// estimate, the shortfall is charged against the bucket so a run of
// under-estimates can't let a team sustain more than its configured
// rate (spec §4.8). An over-estimate is not credited back — x/time/rate
// has no supported "give tokens back" operation, and over-charging by
// a bounded heuristic error is the safer direction to be wrong in.
func (l *Limiter) Reconcile(teamID string, policy *config.RateLimit, estimated int, responseBody []byte) {
	if policy == nil || policy.TPM <= 0 {
		return
	}
	actual := actualTokens(responseBody)
	shortfall := actual - estimated
	if shortfall <= 0 {
		return
	}

	l.mu.Lock()
	b, ok := l.teams[teamID]
	l.mu.Unlock()
	if !ok || b.tpm == nil {
		return
	}
	b.tpm.ReserveN(time.Now(), shortfall)
}

func (l *Limiter) bucketsFor(teamID string, policy *config.RateLimit) *teamBuckets {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.teams[teamID]
	if !ok || b.limits != *policy {
		b = &teamBuckets{limits: *policy}
		if policy.RPM > 0 {
			b.rpm = rate.NewLimiter(rate.Limit(float64(policy.RPM)/60.0), policy.RPM)
		}
		if policy.TPM > 0 {
			b.tpm = rate.NewLimiter(rate.Limit(float64(policy.TPM)/60.0), policy.TPM)
		}
		l.teams[teamID] = b
	}
	return b
}

// actualTokens reads usage.total_tokens from an OpenAI/Anthropic-shaped
// response body via gjson, without needing to know the rest of the
// schema (mirrors the Provider Adapter's single-field rewrite idiom).
func actualTokens(body []byte) int {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0
	}
	if v := gjson.GetBytes(body, "usage.total_tokens"); v.Exists() {
		return int(v.Int())
	}
	if in := gjson.GetBytes(body, "usage.input_tokens"); in.Exists() {
		out := gjson.GetBytes(body, "usage.output_tokens")
		return int(in.Int() + out.Int())
	}
	return 0
}

// retryAfter estimates whole seconds until the next token is available
// on an exhausted limiter, for the Retry-After header.
func retryAfter(l *rate.Limiter) float64 {
	r := l.Reserve()
	defer r.Cancel()
	return r.Delay().Seconds() + 1
}
