package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"swarmtrade/internal/cache"
)

const sentimentCacheKey = "marketdata:sentiment:fng"

// SentimentClient polls the alternative.me fear-and-greed index. Readings
// are cached so a swarm of concurrent analysts causes one upstream call.
type SentimentClient struct {
	Logger *zap.Logger
	Cache  cache.Store

	URL     string
	TTL     time.Duration
	Timeout time.Duration

	httpc *http.Client
}

func NewSentimentClient(logger *zap.Logger, store cache.Store, url string, ttl, timeout time.Duration) *SentimentClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SentimentClient{
		Logger:  logger,
		Cache:   store,
		URL:     strings.TrimSpace(url),
		TTL:     ttl,
		Timeout: timeout,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (c *SentimentClient) Fetch(ctx context.Context) (*Sentiment, error) {
	if c == nil || c.URL == "" {
		return nil, nil
	}

	if c.Cache != nil {
		if raw, found, err := c.Cache.Get(ctx, sentimentCacheKey); err == nil && found {
			var s Sentiment
			if json.Unmarshal(raw, &s) == nil {
				return &s, nil
			}
		}
	}

	s, err := c.fetchRemote(ctx)
	if err != nil {
		return nil, err
	}

	if c.Cache != nil {
		if raw, merr := json.Marshal(s); merr == nil {
			if cerr := c.Cache.Set(ctx, sentimentCacheKey, raw, c.TTL); cerr != nil && c.Logger != nil {
				c.Logger.Warn("sentiment cache write failed", zap.Error(cerr))
			}
		}
	}
	return s, nil
}

func (c *SentimentClient) fetchRemote(ctx context.Context) (*Sentiment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []struct {
			Value          string `json:"value"`
			Classification string `json:"value_classification"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("sentiment parse: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("sentiment parse: empty data")
	}

	value, err := strconv.Atoi(strings.TrimSpace(payload.Data[0].Value))
	if err != nil {
		return nil, fmt.Errorf("sentiment parse: %w", err)
	}
	return &Sentiment{
		Value:          value,
		Classification: payload.Data[0].Classification,
		FetchedAt:      time.Now().UTC(),
	}, nil
}
