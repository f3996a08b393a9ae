package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestLimiterAllow(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	key := "203.0.113.7"

	// Should allow burst size requests immediately
	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}

	// Next request should be denied
	if limiter.Allow(key) {
		t.Error("Request after burst should be denied")
	}

	// Wait for token replenishment (1 second = 1 token at 60/min)
	time.Sleep(1100 * time.Millisecond)

	if !limiter.Allow(key) {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}

	if limiter.Allow("client-a") {
		t.Error("Client A should be rate limited")
	}
	if !limiter.Allow("client-b") {
		t.Error("Client B should not be rate limited")
	}
}

func TestLimiterDeniedRequestsDoNotConsumeTokens(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 600, BurstSize: 1})
	defer limiter.Stop()

	now := time.Now()
	if !limiter.reserve("k", now).OK() {
		t.Fatal("First request should be allowed")
	}
	// Hammering while refused must not push the next token further out.
	for i := 0; i < 20; i++ {
		if limiter.reserve("k", now).OK() {
			t.Fatal("Immediate request should be denied")
		}
	}
	if !limiter.reserve("k", now.Add(110*time.Millisecond)).OK() {
		t.Error("Request after 100ms should be allowed")
	}
}

func TestLimiterSweep(t *testing.T) {
	limiter := New(DefaultConfig())
	defer limiter.Stop()

	limiter.Allow("old")
	limiter.Allow("new")
	limiter.mu.Lock()
	limiter.clients["old"].lastSeen = time.Now().Add(-time.Hour)
	limiter.mu.Unlock()

	limiter.sweep(time.Now().Add(-2 * time.Minute))
	if limiter.Len() != 1 {
		t.Errorf("Expected 1 tracked key after sweep, got %d", limiter.Len())
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := New(Config{RequestsPerMinute: 1, BurstSize: 2})
	defer limiter.Stop()

	r := gin.New()
	r.POST("/api/login", limiter.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"decision": "ACCEPTED"})
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			if w.Header().Get("Retry-After") == "" {
				t.Error("Expected Retry-After header")
			}
		}
	}

	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Unexpected status sequence %v", codes)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 60 {
		t.Errorf("Expected 60 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("Expected burst size 10, got %d", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("Expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
	}
}
