// Package wandb reads run listings and logged history from a Weights &
// Biases compatible GraphQL API.
package wandb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docker/go-units"
	"github.com/ethpandaops/harvestoor/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	graphQLPath = "/graphql"
	userAgent   = "harvestoor"

	// errorBodyLimit bounds how much of a failed response is quoted in errors.
	errorBodyLimit = 512
)

// Client talks to the tracking service's GraphQL endpoint. It never retries:
// any transport, HTTP or GraphQL error is returned to the caller.
type Client struct {
	log        logrus.FieldLogger
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxBody    int64
}

// NewClient creates a Client from the remote configuration. Every request
// is bounded by cfg.Timeout.
func NewClient(log logrus.FieldLogger, cfg *config.RemoteConfig) (*Client, error) {
	maxBody, err := cfg.MaxResponseBytes()
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		log:        log.WithField("component", "wandb-client"),
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + graphQLPath,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		maxBody:    maxBody,
	}, nil
}

type graphQLRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// do executes one GraphQL operation and decodes its data into out.
// Numbers are decoded as json.Number so integer seeds and steps survive.
func (c *Client) do(
	ctx context.Context,
	operation, query string,
	variables map[string]any,
	out any,
) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: waiting for rate limiter: %w", operation, err)
		}
	}

	body, err := json.Marshal(graphQLRequest{
		OperationName: operation,
		Query:         query,
		Variables:     variables,
	})
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", operation, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.apiKey != "" {
		req.SetBasicAuth("api", c.apiKey)
	}

	c.log.WithField("operation", operation).Debug("Sending GraphQL request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", operation, err)
	}

	if int64(len(data)) > c.maxBody {
		return fmt.Errorf("%s: response exceeds %s", operation, units.BytesSize(float64(c.maxBody)))
	}

	if resp.StatusCode != http.StatusOK {
		snippet := data
		if len(snippet) > errorBodyLimit {
			snippet = snippet[:errorBodyLimit]
		}

		return fmt.Errorf("%s: api returned status %d: %s",
			operation, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var gqlResp graphQLResponse
	if err := decodeJSON(data, &gqlResp); err != nil {
		return fmt.Errorf("%s: decoding response: %w", operation, err)
	}

	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			msgs = append(msgs, e.Message)
		}

		return fmt.Errorf("%s: %s", operation, strings.Join(msgs, "; "))
	}

	if out == nil {
		return nil
	}

	if err := decodeJSON(gqlResp.Data, out); err != nil {
		return fmt.Errorf("%s: decoding data: %w", operation, err)
	}

	return nil
}

// decodeJSON unmarshals data keeping numbers as json.Number.
func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(out)
}

// decodeJSONScalar decodes a GraphQL JSON/JSONString field. Depending on the
// server version these arrive either as embedded JSON or as a string that
// holds JSON.
func decodeJSONScalar(raw json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}

		if s == "" {
			return nil
		}

		trimmed = []byte(s)
	}

	return decodeJSON(trimmed, out)
}
