package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"escrowkit/observability/metrics"
)

func TestPostSendsJSONWithHeaders(t *testing.T) {
	var (
		gotBody map[string]string
		gotReq  *http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"data":{"escrow_ref":"ESC-1"}}`))
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL, Tokens: StaticToken("session-token"), Metrics: metrics.New(prometheus.NewRegistry())})
	require.NoError(t, err)

	var env Envelope[struct {
		Ref string `json:"escrow_ref"`
	}]
	ctx := WithIdempotencyKey(context.Background(), "fixed-key")
	require.NoError(t, client.Post(ctx, "/api/escrow/fund", map[string]string{"escrowRef": "ESC-1"}, &env))
	require.True(t, env.OK())
	require.Equal(t, "ESC-1", env.Data.Ref)

	require.Equal(t, "/api/escrow/fund", gotReq.URL.Path)
	require.Equal(t, http.MethodPost, gotReq.Method)
	require.Equal(t, "Bearer session-token", gotReq.Header.Get("Authorization"))
	require.Equal(t, "fixed-key", gotReq.Header.Get(HeaderIdempotencyKey))
	require.NotEmpty(t, gotReq.Header.Get(HeaderRequestID))
	require.Equal(t, "application/json", gotReq.Header.Get("Content-Type"))
	require.Equal(t, "ESC-1", gotBody["escrowRef"])
}

func TestPostReturnsAPIErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":false,"message":"escrow already released","code":"invalid_transition"}`))
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.Post(context.Background(), "/api/escrow/cancel", map[string]string{}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "escrow already released", apiErr.Message)
	require.Equal(t, "invalid_transition", apiErr.Code)
	require.Equal(t, "escrow already released", UserMessage(err, "fallback"))
}

func TestPostRawErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	err = client.Post(context.Background(), "/x", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "upstream exploded", apiErr.Message)
}

func TestPostTransportFailureUsesFallbackMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client, err := New(Options{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	err = client.Post(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	require.Equal(t, "try again", UserMessage(err, "try again"))
}

func TestPostHonoursRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`true`))
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL, RatePerSecond: 0.001, Burst: 1})
	require.NoError(t, err)
	require.NoError(t, client.Post(context.Background(), "/x", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = client.Post(ctx, "/x", nil, nil)
	require.Error(t, err)
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestRejectedMessage(t *testing.T) {
	err := Rejected("insufficient funds")
	require.True(t, errors.Is(err, ErrRejected))
	require.Equal(t, "insufficient funds", UserMessage(err, "x"))
	require.Equal(t, "x", UserMessage(Rejected(""), "x"))
}
