package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestReplaySuppressesSecondExecution(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore(10), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}))

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/createOrder", nil)
		if key != "" {
			req.Header.Set(HeaderKey, key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do("k1")
	second := do("k1")

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %q, want %d %q", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("replay response missing marker header")
	}

	// A different key executes the handler again.
	do("k2")
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times after second key, want 2", calls.Load())
	}

	// No key always executes.
	do("")
	if calls.Load() != 3 {
		t.Errorf("handler ran %d times without key, want 3", calls.Load())
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore(10), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders/pledgeToOrder", nil)
		req.Header.Set(HeaderKey, "retry-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if i == 1 && rec.Code != http.StatusOK {
			t.Errorf("retry after 500 got %d, want 200 from a fresh execution", rec.Code)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2 (500 not cached)", calls.Load())
	}
}

func TestKeysScopedByPath(t *testing.T) {
	var calls atomic.Int32
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(NewMemoryStore(10), time.Minute)(inner)

	for _, path := range []string{"/orders/createOrder", "/orders/pledgeToOrder"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(HeaderKey, "shared-key")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2 (key scoped per endpoint)", calls.Load())
	}
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	resp := &Response{StatusCode: 200, Body: []byte("x")}

	if err := store.Set(ctx, "k", resp, -time.Second); err != nil {
		t.Fatal(err)
	}
	if _, found := store.Get(ctx, "k"); found {
		t.Error("expired entry served")
	}

	if err := store.Set(ctx, "k", resp, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, found := store.Get(ctx, "k"); !found {
		t.Error("fresh entry missing")
	}
}
