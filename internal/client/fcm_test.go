package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	applog "pipestock/internal/logger"
)

func newTestClient(url, key string) Client {
	return Client{
		Client: &http.Client{Timeout: 5 * time.Second},
		FCMKey: key,
		FCMURL: url,
		Logger: applog.Discard(),
	}
}

func TestFCMSendToTopic(t *testing.T) {
	var got FCMSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key=secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message_id": 42}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "secret")
	resp, err := c.FCMSendToTopic(context.Background(), "low-stock",
		FCMNotification{Title: "Low stock", Body: "Cast Iron Pipes 4m×150mm has 3 left"},
		FCMData{PipelineID: "p1", Quantity: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 42, resp.MessageID)
	assert.Equal(t, "/topics/low-stock", got.To)
	assert.Equal(t, "p1", got.Data.PipelineID)
	assert.Equal(t, 3, got.Data.Quantity)
}

func TestFCMSendToTopicErrors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		_, err := newTestClient("http://127.0.0.1:1", "").FCMSendToTopic(context.Background(), "t", FCMNotification{}, FCMData{})
		assert.ErrorIs(t, err, ErrFCMDisabled)
	})

	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		}))
		defer srv.Close()
		_, err := newTestClient(srv.URL, "k").FCMSendToTopic(context.Background(), "t", FCMNotification{}, FCMData{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error": "InvalidParameters"}`))
		}))
		defer srv.Close()
		_, err := newTestClient(srv.URL, "k").FCMSendToTopic(context.Background(), "t", FCMNotification{}, FCMData{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "InvalidParameters")
	})
}
