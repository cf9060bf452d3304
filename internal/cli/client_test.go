package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGet(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(ts.Close)

	c := NewClient(ts.URL+"/", "secret")
	raw, err := c.Get(context.Background(), "/health")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
	assert.Equal(t, "secret", gotAuth)
}

func TestClientGetErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)

	c := NewClient(ts.URL, "wrong")
	_, err := c.Get(context.Background(), "/status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestClientGetConnectionRefused(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "token")
	_, err := c.Get(context.Background(), "/health")
	require.Error(t, err)
}
