package ml

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HeadlineBot/internal/metrics"
)

func TestClientCompound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, compoundPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Starmer faces revolt", body.Text)

		_, _ = w.Write([]byte(`{"compound": -0.42, "neg": 0.5}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret", time.Second)
	score, err := client.Compound(context.Background(), "Starmer faces revolt")
	require.NoError(t, err)
	assert.InDelta(t, -0.42, score, 1e-9)
}

func TestClientCompoundClampsAndValidates(t *testing.T) {
	responses := []string{`{"compound": -3}`, `{"label": "neg"}`}
	var call atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(responses[call.Add(1)-1]))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)

	score, err := client.Compound(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, -1.0, score)

	_, err = client.Compound(context.Background(), "x")
	assert.ErrorContains(t, err, "no compound score")
}

func TestClientCompoundErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second).Compound(context.Background(), "x")
	assert.ErrorContains(t, err, "unexpected status 503")

	_, err = NewClient("", "", time.Second).Compound(context.Background(), "x")
	assert.ErrorContains(t, err, "not configured")
}

type stubSentiment struct {
	calls atomic.Int32
	err   error
	score float64
}

func (s *stubSentiment) Compound(context.Context, string) (float64, error) {
	s.calls.Add(1)
	return s.score, s.err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubSentiment{err: errors.New("connection refused")}
	breaker := NewBreaker(stub, BreakerSettings{Component: "sentiment-open-test", Failures: 2, Cooldown: time.Hour}, nil)
	gauge := metrics.CircuitBreakerState.WithLabelValues("sentiment-open-test")
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge))

	for range 2 {
		_, err := breaker.Compound(context.Background(), "x")
		assert.ErrorContains(t, err, "connection refused")
	}
	assert.Equal(t, gobreaker.StateOpen, breaker.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(gauge))

	_, err := breaker.Compound(context.Background(), "x")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), stub.calls.Load(), "open breaker must not reach the service")
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	stub := &stubSentiment{err: errors.New("timeout")}
	breaker := NewBreaker(stub, BreakerSettings{Component: "sentiment-recover-test", Failures: 1, Cooldown: 20 * time.Millisecond}, nil)

	_, err := breaker.Compound(context.Background(), "x")
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, breaker.State())

	time.Sleep(40 * time.Millisecond)
	stub.err = nil
	stub.score = 0.25

	score, err := breaker.Compound(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 0.25, score)
	assert.Equal(t, gobreaker.StateClosed, breaker.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("sentiment-recover-test")))
}

func TestBreakerIgnoresCancelledCallers(t *testing.T) {
	stub := &stubSentiment{err: context.Canceled}
	breaker := NewBreaker(stub, BreakerSettings{Component: "sentiment-cancel-test", Failures: 1, Cooldown: time.Hour}, nil)

	_, _ = breaker.Compound(context.Background(), "x")
	assert.Equal(t, gobreaker.StateClosed, breaker.State())
}
