package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irfndi/regimebot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFearGreedClient_FetchSentiment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Fear and Greed Index","data":[{"value":"18","value_classification":"Extreme Fear","timestamp":"1700000000"}],"metadata":{"error":null}}`))
	}))
	defer server.Close()

	cfg := testFeedConfig()
	cfg.SentimentURL = server.URL
	s, err := NewFearGreedClient(cfg, quietLogger()).FetchSentiment(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.18, s.Value, 1e-9)
	assert.Equal(t, models.SentimentExtremeFear, s.Class)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), s.Timestamp)
}

func TestFearGreedClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
	}{
		{"server error retried once", http.StatusServiceUnavailable, "unavailable", 2},
		{"bad request not retried", http.StatusBadRequest, "bad", 1},
		{"empty data", http.StatusOK, `{"data":[]}`, 2},
		{"garbage value", http.StatusOK, `{"data":[{"value":"abc","timestamp":"1"}]}`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			cfg := testFeedConfig()
			cfg.SentimentURL = server.URL
			_, err := NewFearGreedClient(cfg, quietLogger()).FetchSentiment(context.Background())
			require.Error(t, err)
			assert.True(t, IsExternalFeedError(err))
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestStaticSentiment(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewStaticSentiment("Extreme Greed", func() time.Time { return now })
	require.NoError(t, err)

	got, err := s.FetchSentiment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SentimentExtremeGreed, got.Class)
	assert.Equal(t, "override", got.Source)
	assert.Equal(t, now, got.Timestamp)

	_, err = NewStaticSentiment("panic", nil)
	assert.Error(t, err)
}

type memoryCache struct {
	value  *models.Sentiment
	getErr error
	sets   int
}

func (m *memoryCache) Get(ctx context.Context) (*models.Sentiment, error) {
	return m.value, m.getErr
}

func (m *memoryCache) Set(ctx context.Context, s models.Sentiment) error {
	m.sets++
	m.value = &s
	return nil
}

func TestCachedSentimentSource(t *testing.T) {
	reading := models.Sentiment{Value: 0.6, Class: models.SentimentGreed, Source: "alternative.me"}

	t.Run("miss fetches and stores", func(t *testing.T) {
		upstream := new(MockSentimentSource)
		upstream.On("FetchSentiment", mock.Anything).Return(reading, nil).Once()
		cache := &memoryCache{}

		source := NewCachedSentimentSource(upstream, cache, quietLogger())
		got, err := source.FetchSentiment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, reading, got)
		assert.Equal(t, 1, cache.sets)

		got, err = source.FetchSentiment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, reading, got)
		upstream.AssertNumberOfCalls(t, "FetchSentiment", 1)
	})

	t.Run("cache error falls through", func(t *testing.T) {
		upstream := new(MockSentimentSource)
		upstream.On("FetchSentiment", mock.Anything).Return(reading, nil).Once()
		cache := &memoryCache{getErr: errors.New("redis down")}

		got, err := NewCachedSentimentSource(upstream, cache, quietLogger()).FetchSentiment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, reading, got)
	})

	t.Run("upstream failure propagates", func(t *testing.T) {
		upstream := new(MockSentimentSource)
		feedErr := &ExternalFeedError{Source: "fear_greed", Op: "latest", Attempts: 2, Err: errors.New("timeout")}
		upstream.On("FetchSentiment", mock.Anything).Return(models.Sentiment{}, feedErr).Once()

		_, err := NewCachedSentimentSource(upstream, &memoryCache{}, quietLogger()).FetchSentiment(context.Background())
		assert.True(t, IsExternalFeedError(err))
	})
}
