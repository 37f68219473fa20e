// Package subgraph queries lending-market reserve state from a hosted
// subgraph indexer.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// rayScale is the 1e27 fixed-point scale lending pools use for rates.
var rayScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))

// Client is a GraphQL client for a lending-protocol subgraph, used to query
// per-reserve variable borrow rates.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client

	// symbols maps subgraph reserve symbols to local asset symbols. Empty
	// means take reserves as-is.
	symbols map[string]string
}

// NewClient creates a subgraph client for the given endpoint.
func NewClient(graphqlURL, apiKey string, symbols map[string]string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		symbols:    symbols,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// BorrowRates queries the current variable borrow rate for every tracked
// reserve and returns annualized fractions keyed by asset symbol.
func (c *Client) BorrowRates(ctx context.Context) (map[string]float64, error) {
	query := `
		query Reserves {
			reserves(where: { borrowingEnabled: true }) {
				symbol
				variableBorrowRate
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch borrow rates: %w", err)
	}

	var result struct {
		Reserves []struct {
			Symbol             string `json:"symbol"`
			VariableBorrowRate string `json:"variableBorrowRate"`
		} `json:"reserves"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode borrow rates: %w", err)
	}

	rates := make(map[string]float64, len(result.Reserves))
	for _, r := range result.Reserves {
		symbol := r.Symbol
		if len(c.symbols) > 0 {
			mapped, ok := c.symbols[symbol]
			if !ok {
				continue
			}
			symbol = mapped
		}
		rate, ok := parseRayRate(r.VariableBorrowRate)
		if !ok {
			continue
		}
		rates[symbol] = rate
	}

	return rates, nil
}

// LatestBlock returns the latest block indexed by the subgraph, useful for
// monitoring indexing lag.
func (c *Client) LatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("subgraph: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("subgraph: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// parseRayRate converts a 1e27 fixed-point annualized rate string to a
// float64 fraction.
func parseRayRate(s string) (float64, bool) {
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok || raw.Sign() < 0 {
		return 0, false
	}
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), rayScale).Float64()
	return out, true
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
