package publish

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSuccess(t *testing.T) {
	var gotAuth, gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 1234, "status": "publish"}`))
	}))
	defer server.Close()

	pub := NewHTTPPublisher(server.URL, "editor", "s3cret", 0, nil)
	result, err := pub.Publish(context.Background(), &Request{
		ContentKey: "post-a",
		Payload:    `{"title":"Hello"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "1234", result.ExternalPostID)

	expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("editor:s3cret"))
	assert.Equal(t, expectedAuth, gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, `{"title":"Hello"}`, gotBody)
}

func TestPublishClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuth},
		{"forbidden", http.StatusForbidden, KindAuth},
		{"bad request", http.StatusBadRequest, KindValidation},
		{"unprocessable", http.StatusUnprocessableEntity, KindValidation},
		{"rate limited", http.StatusTooManyRequests, KindTransient},
		{"server error", http.StatusInternalServerError, KindTransient},
		{"bad gateway", http.StatusBadGateway, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			pub := NewHTTPPublisher(server.URL, "editor", "s3cret", 0, nil)
			_, err := pub.Publish(context.Background(), &Request{ContentKey: "post-a", Payload: "{}"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, Classify(err))
		})
	}
}

func TestPublishTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	pub := NewHTTPPublisher(server.URL, "editor", "s3cret", 0, nil)
	_, err := pub.Publish(ctx, &Request{ContentKey: "post-a", Payload: "{}"})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, Classify(err))
	assert.True(t, Retryable(err))
}

func TestPublishUnreachableHost(t *testing.T) {
	// Reserved TEST-NET address, nothing listens there
	pub := NewHTTPPublisher("http://192.0.2.1:9", "editor", "s3cret", 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := pub.Publish(ctx, &Request{ContentKey: "post-a", Payload: "{}"})
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestPublishSucceedsOnUnparseableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	pub := NewHTTPPublisher(server.URL, "editor", "s3cret", 0, nil)
	result, err := pub.Publish(context.Background(), &Request{ContentKey: "post-a", Payload: "{}"})
	require.NoError(t, err)
	assert.Empty(t, result.ExternalPostID)
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := NewHTTPPublisher(server.URL, "editor", "s3cret", 0, nil)
	assert.NoError(t, pub.Ping(context.Background()))
}

func TestPingAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	pub := NewHTTPPublisher(server.URL, "editor", "wrong", 0, nil)
	err := pub.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuth, Classify(err))
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	err := context.Canceled
	assert.Equal(t, KindTransient, Classify(err))
	assert.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewError(KindTransient, "x", nil)))
	assert.True(t, Retryable(NewError(KindTimeout, "x", nil)))
	assert.False(t, Retryable(NewError(KindAuth, "x", nil)))
	assert.False(t, Retryable(NewError(KindValidation, "x", nil)))
}
