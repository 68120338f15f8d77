package notifier

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifier_SendWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		assert.Equal(t, "strategy disabled", r.PostForm.Get("text"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42")
	n.BaseURL = srv.URL
	n.Backoff = 0

	require.NoError(t, n.SendWithRetry("strategy disabled"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTelegramNotifier_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("bad", "42")
	n.BaseURL = srv.URL
	n.Backoff = 0
	n.Retries = 2

	err := n.SendWithRetry("hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.NoError(t, Log{}.SendWithRetry("hello"))
}
