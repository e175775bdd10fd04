package ratelimit

import (
	"testing"

	"github.com/cregis/apex/internal/config"
)

func TestAllowNilPolicyIsUnlimited(t *testing.T) {
	l := New()
	if err := l.Allow("team-a", nil, 100); err != nil {
		t.Errorf("expected nil policy to be unlimited, got %v", err)
	}
}

func TestAllowRejectsOnceRPMExhausted(t *testing.T) {
	l := New()
	policy := &config.RateLimit{RPM: 1}

	if err := l.Allow("team-a", policy, 1); err != nil {
		t.Fatalf("first request should be allowed: %v", err)
	}
	if err := l.Allow("team-a", policy, 1); err == nil {
		t.Fatal("expected second immediate request to be rate limited")
	}
}

func TestAllowIsolatesBucketsPerTeam(t *testing.T) {
	l := New()
	policy := &config.RateLimit{RPM: 1}

	if err := l.Allow("team-a", policy, 1); err != nil {
		t.Fatalf("team-a first request: %v", err)
	}
	if err := l.Allow("team-b", policy, 1); err != nil {
		t.Fatalf("team-b should have its own bucket: %v", err)
	}
}

func TestAllowRejectsWhenTPMEstimateExceedsBudget(t *testing.T) {
	l := New()
	policy := &config.RateLimit{TPM: 100}
	if err := l.Allow("team-a", policy, 1000); err == nil {
		t.Fatal("expected an estimate larger than the whole budget to be rejected")
	}
}

func TestAllowPermitsWithinTPMBudget(t *testing.T) {
	l := New()
	policy := &config.RateLimit{TPM: 1000}
	if err := l.Allow("team-a", policy, 50); err != nil {
		t.Errorf("expected estimate within budget to be allowed, got %v", err)
	}
}

func TestEstimateTokensFloorsAtOne(t *testing.T) {
	if got := EstimateTokens(nil); got != 1 {
		t.Errorf("EstimateTokens(nil) = %d, want 1", got)
	}
	if got := EstimateTokens([]byte("abc")); got != 1 {
		t.Errorf("EstimateTokens(3 bytes) = %d, want 1", got)
	}
	if got := EstimateTokens(make([]byte, 400)); got != 100 {
		t.Errorf("EstimateTokens(400 bytes) = %d, want 100", got)
	}
}

func TestReconcileIgnoresMissingUsageBlock(t *testing.T) {
	l := New()
	policy := &config.RateLimit{TPM: 1000}
	l.Allow("team-a", policy, 10)
	l.Reconcile("team-a", policy, 10, []byte(`{"choices":[]}`))
}

func TestReconcileChargesShortfallFromActualUsage(t *testing.T) {
	l := New()
	policy := &config.RateLimit{TPM: 1000}
	l.Allow("team-a", policy, 10)
	l.Reconcile("team-a", policy, 10, []byte(`{"usage":{"total_tokens":980}}`))

	if err := l.Allow("team-a", policy, 50); err == nil {
		t.Fatal("expected the reconciled shortfall to have exhausted the budget")
	}
}
