package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/reporelay/internal/model"
)

func newTestRateLimiter(t *testing.T, r rate.Limit, burst int) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     r,
		GeneralBurst:    burst,
		CleanupInterval: time.Minute,
	}, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, 2, 5)

	calls := 0
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if calls != 5 {
		t.Errorf("handler call count = %d, want 5", calls)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(t, 0.5, 2)

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-rate-limit"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-rate-limit"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 0.5 req/sec → 1トークンの補充に2秒
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After が数値ではない: %q", w.Header().Get("Retry-After"))
	}
	if retryAfter != 2 {
		t.Errorf("Retry-After = %d, want 2", retryAfter)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
	if !body.Retryable {
		t.Error("429は再試行可能として返すべき")
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-a"))
	if w.Code != http.StatusOK {
		t.Fatalf("user-a 1回目: status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("user-a 2回目: status = %d, want 429", w.Code)
	}

	// 別ユーザーは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-b"))
	if w.Code != http.StatusOK {
		t.Errorf("user-b: status = %d, want 200", w.Code)
	}

	if got := rl.LimiterCount(); got != 2 {
		t.Errorf("LimiterCount = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_NoUserID_UsesSessionKey(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	// ユーザー未解決のリクエストは同じキーを共有する
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(""))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)

	rl.getOrCreateLimiter("stale")
	rl.getOrCreateLimiter("fresh")

	rl.mu.Lock()
	rl.limiters["stale"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.cleanup(time.Now())

	if got := rl.LimiterCount(); got != 1 {
		t.Fatalf("LimiterCount = %d, want 1", got)
	}
	rl.mu.RLock()
	_, ok := rl.limiters["fresh"]
	rl.mu.RUnlock()
	if !ok {
		t.Error("最近アクセスされたエントリが削除された")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(60)
	if cfg.GeneralRate != rate.Limit(1) {
		t.Errorf("GeneralRate = %v, want 1", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 60 {
		t.Errorf("GeneralBurst = %d, want 60", cfg.GeneralBurst)
	}

	def := RateLimiterConfigPerMinute(0)
	if def != DefaultRateLimiterConfig() {
		t.Errorf("0以下はデフォルト設定にフォールバックすべき: %+v", def)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
