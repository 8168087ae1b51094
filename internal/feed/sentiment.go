package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/sirupsen/logrus"
)

// SentimentSource yields the current market sentiment reading.
type SentimentSource interface {
	FetchSentiment(ctx context.Context) (models.Sentiment, error)
}

// fngResponse is the alternative.me Fear & Greed payload.
type fngResponse struct {
	Name string `json:"name"`
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
		Timestamp           string `json:"timestamp"`
	} `json:"data"`
	Metadata struct {
		Error *string `json:"error"`
	} `json:"metadata"`
}

// FearGreedClient reads the latest Fear & Greed index value.
type FearGreedClient struct {
	httpClient *http.Client
	url        string
	timeout    time.Duration
	policy     RetryPolicy
	logger     *logrus.Logger
}

// NewFearGreedClient creates a client for the configured sentiment URL.
func NewFearGreedClient(cfg config.FeedConfig, logger *logrus.Logger) *FearGreedClient {
	policy := DefaultRetryPolicy(cfg.RetryDelay)
	policy.MaxRetries = cfg.MaxRetries
	policy.Retryable = retryableHTTP
	return &FearGreedClient{
		httpClient: &http.Client{},
		url:        cfg.SentimentURL,
		timeout:    cfg.Timeout,
		policy:     policy,
		logger:     logger,
	}
}

// FetchSentiment returns the newest index value normalized to [0, 1].
func (c *FearGreedClient) FetchSentiment(ctx context.Context) (models.Sentiment, error) {
	var sentiment models.Sentiment
	attempts, err := ExecuteWithRetry(ctx, c.logger, c.policy, "fear_greed", func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		s, err := c.fetchOnce(attemptCtx)
		if err != nil {
			return err
		}
		sentiment = s
		return nil
	})
	if err != nil {
		return models.Sentiment{}, &ExternalFeedError{Source: "fear_greed", Op: "latest", Attempts: attempts, Err: err}
	}
	return sentiment, nil
}

func (c *FearGreedClient) fetchOnce(ctx context.Context) (models.Sentiment, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return models.Sentiment{}, fmt.Errorf("invalid sentiment URL: %w", err)
	}
	q := u.Query()
	q.Set("limit", "1")
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Sentiment{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Sentiment{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Sentiment{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return models.Sentiment{}, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload fngResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Sentiment{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if payload.Metadata.Error != nil && *payload.Metadata.Error != "" {
		return models.Sentiment{}, fmt.Errorf("sentiment API reported: %s", *payload.Metadata.Error)
	}
	if len(payload.Data) == 0 {
		return models.Sentiment{}, fmt.Errorf("sentiment API returned no data")
	}

	latest := payload.Data[0]
	raw, err := strconv.ParseFloat(latest.Value, 64)
	if err != nil {
		return models.Sentiment{}, fmt.Errorf("invalid sentiment value %q: %w", latest.Value, err)
	}
	value := raw / 100.0

	var ts time.Time
	if secs, err := strconv.ParseInt(latest.Timestamp, 10, 64); err == nil {
		ts = time.Unix(secs, 0).UTC()
	}

	return models.Sentiment{
		Value:     value,
		Class:     models.ClassifySentiment(value),
		Timestamp: ts,
		Source:    "alternative.me",
	}, nil
}

// StaticSentiment always reports one class. It backs force_sentiment_override.
type StaticSentiment struct {
	Class models.SentimentClass
	now   func() time.Time
}

// NewStaticSentiment parses an override such as "EXTREME_GREED" or "Extreme Fear".
func NewStaticSentiment(override string, now func() time.Time) (*StaticSentiment, error) {
	class, err := models.ParseSentimentClass(override)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &StaticSentiment{Class: class, now: now}, nil
}

func (s *StaticSentiment) FetchSentiment(ctx context.Context) (models.Sentiment, error) {
	return models.Sentiment{
		Value:     s.Class.NominalValue(),
		Class:     s.Class,
		Timestamp: s.now().UTC(),
		Source:    "override",
	}, nil
}

// SentimentCache stores the last good reading between cycles.
type SentimentCache interface {
	Get(ctx context.Context) (*models.Sentiment, error)
	Set(ctx context.Context, s models.Sentiment) error
}

// CachedSentimentSource serves a cached reading while it is fresh and
// falls through to the upstream source otherwise. Cache failures are logged
// and never fail the fetch.
type CachedSentimentSource struct {
	upstream SentimentSource
	cache    SentimentCache
	logger   *logrus.Logger
}

// NewCachedSentimentSource wraps upstream with cache.
func NewCachedSentimentSource(upstream SentimentSource, cache SentimentCache, logger *logrus.Logger) *CachedSentimentSource {
	return &CachedSentimentSource{upstream: upstream, cache: cache, logger: logger}
}

func (c *CachedSentimentSource) FetchSentiment(ctx context.Context) (models.Sentiment, error) {
	cached, err := c.cache.Get(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Sentiment cache read failed")
	} else if cached != nil {
		return *cached, nil
	}

	s, err := c.upstream.FetchSentiment(ctx)
	if err != nil {
		return models.Sentiment{}, err
	}
	if err := c.cache.Set(ctx, s); err != nil {
		c.logger.WithError(err).Warn("Sentiment cache write failed")
	}
	return s, nil
}
