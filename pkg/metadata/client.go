// Package metadata talks to the metadata REST endpoint serving the engine
// input of entity types.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrUnexpectedStatus is returned for non-2xx responses
var ErrUnexpectedStatus = errors.New("unexpected metadata response status")

// Source provides the engine input of entity types
type Source interface {
	EngineInput(ctx context.Context, tenant string, entityTypeID int) (*models.EngineInput, error)
	SetPipelineStatus(ctx context.Context, tenant, entityTypeName string) error
}

// Client is the metadata REST client. Calls are guarded by a circuit breaker.
type Client struct {
	log     logrus.FieldLogger
	http    *http.Client
	baseURL string
	apiKey  string
	breaker *gobreaker.CircuitBreaker
	cache   *Cache
}

var _ Source = (*Client)(nil)

// NewClient creates a client. cache may be nil.
func NewClient(log logrus.FieldLogger, cfg *Config, cache *Cache) *Client {
	cfg.SetDefaults()

	log = log.WithField("component", "metadata")

	threshold := cfg.Breaker.FailThreshold

	return &Client{
		log:     log,
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		cache:   cache,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "metadata",
			Interval: cfg.Breaker.FailWindow,
			Timeout:  cfg.Breaker.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		}),
	}
}

// EngineInput fetches the engine input of an entity type
func (c *Client) EngineInput(ctx context.Context, tenant string, entityTypeID int) (*models.EngineInput, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, tenant, entityTypeID)
		if err != nil {
			c.log.WithError(err).Warn("Failed to read cached engine input")
		}

		if cached != nil {
			return cached, nil
		}
	}

	path := fmt.Sprintf("/api/kpi/v1/%s/engineInput/%s", url.PathEscape(tenant), strconv.Itoa(entityTypeID))

	body, err := c.call(ctx, "engine_input", http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var input models.EngineInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, fmt.Errorf("failed to decode engine input: %w", err)
	}

	if input.EntityTypeID == 0 {
		input.EntityTypeID = entityTypeID
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, tenant, &input); err != nil {
			c.log.WithError(err).Warn("Failed to cache engine input")
		}
	}

	return &input, nil
}

// SetPipelineStatus tells the metadata service that the granularities of an
// entity type were refreshed
func (c *Client) SetPipelineStatus(ctx context.Context, tenant, entityTypeName string) error {
	path := fmt.Sprintf("/api/granularity/v1/%s/entityType/%s/setPipelineStatus",
		url.PathEscape(tenant), url.PathEscape(entityTypeName))

	_, err := c.call(ctx, "pipeline_status", http.MethodPost, path)

	return err
}

func (c *Client) call(ctx context.Context, endpoint, method, path string) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, method, path)
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	observability.RecordMetadataRequest(endpoint, status)

	if err != nil {
		return nil, fmt.Errorf("metadata %s %s: %w", method, path, err)
	}

	body, _ := out.([]byte)

	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
