package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := homeDir
	homeDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { homeDir = prev })
	return dir
}

func TestSessionRoundTrip(t *testing.T) {
	dir := useHome(t)

	_, err := LoadSession()
	require.ErrorIs(t, err, ErrNoSession)

	want := Session{AccessToken: "tok", Account: "acc", BaseURL: "http://x"}
	require.NoError(t, SaveSession(want))
	got, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(filepath.Join(dir, ".invest", "session.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, ClearSession())
	require.NoError(t, ClearSession())
	_, err = LoadSession()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionRejectsEmptyToken(t *testing.T) {
	dir := useHome(t)

	assert.Error(t, SaveSession(Session{Account: "acc"}))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".invest"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".invest", "session.json"), []byte(`{"access_token":"  "}`), 0o600))
	_, err := LoadSession()
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".invest", "session.json"), []byte(`{`), 0o600))
	_, err = LoadSession()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestClientSendsAuthAndIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/investments", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"amount": in["amount"]})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL+"/").Invest(context.Background(), "tok", "25k", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "25k", out["amount"])
}

func TestClientDecodesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "confirm=true", r.URL.RawQuery)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no investments"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).DeleteInvestments(context.Background(), "tok", true)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "no investments", apiErr.Message)
}
