// Package graph fetches positions and trade activity from the platform's
// GraphQL indexer.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"tradewatch-notifier/pkg/notifier"
)

// Client talks to the GraphQL indexer endpoint.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// New creates an indexer client.
func New(endpoint string, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type gqlRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
	Query     string         `json:"query"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

const positionsQuery = `query Positions($owner: String!) {
  positions(where: {owner: $owner, shares_gt: "0"}) {
    market { id label }
    shares
  }
}`

const marketActivityQuery = `query MarketActivity($markets: [String!]!, $since: Int!) {
  trades(where: {market_in: $markets, timestamp_gt: $since}, orderBy: timestamp, orderDirection: asc) {
    id
    kind
    timestamp
    txHash
    shares
    assets
    market { label }
    sender { id label }
  }
}`

const traderActivityQuery = `query TraderActivity($traders: [String!]!, $since: Int!) {
  trades(where: {sender_in: $traders, timestamp_gt: $since}, orderBy: timestamp, orderDirection: asc) {
    id
    kind
    timestamp
    txHash
    shares
    assets
    market { label }
    sender { id label }
  }
}`

type wirePosition struct {
	Market struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	} `json:"market"`
	Shares string `json:"shares"`
}

type wireTrade struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	TxHash    string `json:"txHash"`
	Shares    string `json:"shares"`
	Assets    string `json:"assets"`
	Market    struct {
		Label string `json:"label"`
	} `json:"market"`
	Sender struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	} `json:"sender"`
}

// Positions returns the owner's current market holdings.
func (c *Client) Positions(ctx context.Context, owner string) ([]notifier.Position, error) {
	data, err := c.query(ctx, positionsQuery, map[string]any{
		"owner": notifier.NormalizeAddress(owner),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	var payload struct {
		Positions []wirePosition `json:"positions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]notifier.Position, 0, len(payload.Positions))
	for _, p := range payload.Positions {
		positions = append(positions, notifier.Position{
			MarketID:    p.Market.ID,
			MarketLabel: p.Market.Label,
			Shares:      p.Shares,
		})
	}
	return positions, nil
}

// MarketActivity returns trades on the given markets since the given time,
// oldest first.
func (c *Client) MarketActivity(ctx context.Context, markets []string, since time.Time) ([]notifier.ActivityEvent, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	return c.trades(ctx, marketActivityQuery, map[string]any{
		"markets": markets,
		"since":   since.Unix(),
	})
}

// TraderActivity returns trades made by the given identities since the given
// time, oldest first.
func (c *Client) TraderActivity(ctx context.Context, traders []string, since time.Time) ([]notifier.ActivityEvent, error) {
	if len(traders) == 0 {
		return nil, nil
	}
	return c.trades(ctx, traderActivityQuery, map[string]any{
		"traders": traders,
		"since":   since.Unix(),
	})
}

func (c *Client) trades(ctx context.Context, query string, variables map[string]any) ([]notifier.ActivityEvent, error) {
	data, err := c.query(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}

	var payload struct {
		Trades []wireTrade `json:"trades"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	events := make([]notifier.ActivityEvent, 0, len(payload.Trades))
	for _, t := range payload.Trades {
		events = append(events, notifier.ActivityEvent{
			Timestamp:   time.Unix(t.Timestamp, 0).UTC(),
			ID:          t.ID,
			Kind:        tradeKind(t.Kind),
			MarketLabel: t.Market.Label,
			SenderID:    notifier.NormalizeAddress(t.Sender.ID),
			SenderLabel: t.Sender.Label,
			Shares:      t.Shares,
			Assets:      t.Assets,
			TxHash:      t.TxHash,
		})
	}
	return events, nil
}

func tradeKind(s string) notifier.TradeKind {
	if s == "sell" || s == string(notifier.TradeLiquidated) {
		return notifier.TradeLiquidated
	}
	return notifier.TradeAcquired
}

// query posts one GraphQL request and returns the raw data payload.
// Transport and server errors are retried; GraphQL-level errors are not, as
// they indicate a bad query rather than a flaky backend.
func (c *Client) query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	var data json.RawMessage
	err = retry.Do(
		func() error {
			c.logger.Debug("GraphQL request starting", "endpoint", c.endpoint)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("GraphQL request failed, will retry", "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				c.logger.Warn("GraphQL endpoint returned non-200 status, will retry",
					"status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			var gqlResp gqlResponse
			if err := json.Unmarshal(body, &gqlResp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if len(gqlResp.Errors) > 0 {
				return retry.Unrecoverable(fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message))
			}

			data = gqlResp.Data
			c.logger.Debug("GraphQL request completed",
				"duration_ms", time.Since(startTime).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying GraphQL request after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}
