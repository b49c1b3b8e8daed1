package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func courierRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	actor := auth.Actor{ID: uuid.MustParse("8f0c7a59-3f8e-4a4e-9a36-2d1b8b7f6a11"), Role: enums.ActorRoleCourier}
	return req.WithContext(WithActor(req.Context(), actor))
}

func keyed(req *http.Request, key string) *http.Request {
	req.Header.Set(idempotencyHeader, key)
	return req
}

func TestIdempotencyGuardRequiresHeader(t *testing.T) {
	called := false
	h := NewIdempotencyGuard(newFakeStore(), nil).Require(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, courierRequest(http.MethodPost, "/couriers/abc/deliver", `{"lat":1}`))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, called)
}

func TestIdempotencyGuardReplaysFirstOutcome(t *testing.T) {
	store := newFakeStore()
	var calls int
	h := NewIdempotencyGuard(store, nil).Require(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"o-1"}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, keyed(courierRequest(http.MethodPost, "/orders", `{"items":[]}`), "abc"))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, keyed(courierRequest(http.MethodPost, "/orders/", `{"items":[]}`), "abc"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"order_id":"o-1"}`, replay.Body.String())
	assert.Len(t, store.data, 1)
}

func TestIdempotencyGuardKeepsServerErrorsRetryable(t *testing.T) {
	store := newFakeStore()
	var calls int
	h := NewIdempotencyGuard(store, nil).Require(ReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), keyed(courierRequest(http.MethodPost, "/couriers/abc/claim", `{}`), "retry-me"))
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyGuardRejectsChangedBody(t *testing.T) {
	h := NewIdempotencyGuard(newFakeStore(), nil).Require(ReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), keyed(courierRequest(http.MethodPost, "/orders/1/transition", `{"to":"confirmado"}`), "xyz"))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, keyed(courierRequest(http.MethodPost, "/orders/1/transition", `{"to":"cancelado"}`), "xyz"))

	require.Equal(t, http.StatusConflict, resp.Code)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), payload.Error.Code)
}

func TestIdempotencyGuardScopesKeysPerPath(t *testing.T) {
	var calls int
	h := NewIdempotencyGuard(newFakeStore(), nil).Require(ReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), keyed(courierRequest(http.MethodPost, "/orders/1/transition", `{}`), "same"))
	h.ServeHTTP(httptest.NewRecorder(), keyed(courierRequest(http.MethodPost, "/orders/2/transition", `{}`), "same"))
	assert.Equal(t, 2, calls)
}

func TestIdempotencyGuardWithoutStorePassesThrough(t *testing.T) {
	h := NewIdempotencyGuard(nil, nil).Require(ReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, courierRequest(http.MethodPost, "/couriers/abc/claim", `{}`))
	assert.Equal(t, http.StatusAccepted, resp.Code)
}
