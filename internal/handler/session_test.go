package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casewire/collab-server-go/internal/audit"
	"github.com/casewire/collab-server-go/internal/session"
)

func newSessionRouter(store *session.Store) chi.Router {
	h := NewSessionHandler(store, audit.NewRecorder(nil))
	r := chi.NewRouter()
	r.Post("/internal/sessions", h.Create)
	r.Delete("/internal/sessions/{token}", h.Destroy)
	r.Delete("/internal/users/{userID}/sessions", h.DestroyAll)
	return r
}

func TestSessionCreate(t *testing.T) {
	t.Run("mints a token", func(t *testing.T) {
		store := session.NewStore(time.Hour)
		router := newSessionRouter(store)

		req := httptest.NewRequest("POST", "/internal/sessions",
			strings.NewReader(`{"userId":"user-1","username":"Alice"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			Token    string `json:"token"`
			UserID   string `json:"userId"`
			Username string `json:"username"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "user-1", resp.UserID)
		assert.Equal(t, "Alice", resp.Username)

		assert.NotNil(t, store.Validate(resp.Token))
	})

	t.Run("requires userId and username", func(t *testing.T) {
		router := newSessionRouter(session.NewStore(time.Hour))

		for _, body := range []string{`{}`, `{"userId":"u"}`, `{"username":"n"}`} {
			req := httptest.NewRequest("POST", "/internal/sessions", strings.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		router := newSessionRouter(session.NewStore(time.Hour))

		req := httptest.NewRequest("POST", "/internal/sessions", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionDestroy(t *testing.T) {
	t.Run("revokes the token", func(t *testing.T) {
		store := session.NewStore(time.Hour)
		router := newSessionRouter(store)

		req := httptest.NewRequest("POST", "/internal/sessions",
			strings.NewReader(`{"userId":"user-1","username":"Alice"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var resp struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		req = httptest.NewRequest("DELETE", "/internal/sessions/"+resp.Token, nil)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Nil(t, store.Validate(resp.Token))
	})

	t.Run("unknown token still returns no content", func(t *testing.T) {
		router := newSessionRouter(session.NewStore(time.Hour))

		req := httptest.NewRequest("DELETE", "/internal/sessions/never-issued", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestSessionDestroyAll(t *testing.T) {
	t.Run("revokes every session for the user", func(t *testing.T) {
		store := session.NewStore(time.Hour)
		router := newSessionRouter(store)

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("POST", "/internal/sessions",
				strings.NewReader(`{"userId":"user-1","username":"Alice"}`))
			router.ServeHTTP(httptest.NewRecorder(), req)
		}

		req := httptest.NewRequest("DELETE", "/internal/users/user-1/sessions", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Revoked int `json:"revoked"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Revoked)
		assert.Equal(t, 0, store.Count())
	})
}
