package ows

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/tender-radar/radar-cli/internal/resilience"
)

// GraphQLPage is one page of GraphQL results. The OWS GraphQL endpoint pages
// by object id: pass LastID back as the "after" variable to continue.
type GraphQLPage struct {
	Items       []map[string]any
	LastID      int64
	HasNextPage bool
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data       map[string]json.RawMessage `json:"data"`
	Extensions struct {
		PageInfo struct {
			HasNextPage bool  `json:"hasNextPage"`
			LastID      int64 `json:"lastId"`
		} `json:"pageInfo"`
	} `json:"extensions"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchGraphQLPage executes a paginated GraphQL query and decodes the list
// under dataKey in the response. after is the LastID from the previous page
// (0 for the first page); limit caps the page size.
func (c *Client) FetchGraphQLPage(ctx context.Context, query string, variables map[string]any, dataKey string, after int64, limit int) (*GraphQLPage, error) {
	vars := make(map[string]any, len(variables)+2)
	for k, v := range variables {
		vars[k] = v
	}
	if after > 0 {
		vars["after"] = after
	}
	if limit > 0 {
		vars["limit"] = limit
	}

	resp, err := c.graphql(ctx, query, vars)
	if err != nil {
		return nil, err
	}

	raw, ok := resp.Data[dataKey]
	if !ok || string(raw) == "null" {
		return &GraphQLPage{}, nil
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, eris.Wrapf(err, "ows: decode graphql field %q", dataKey)
	}

	return &GraphQLPage{
		Items:       items,
		LastID:      resp.Extensions.PageInfo.LastID,
		HasNextPage: resp.Extensions.PageInfo.HasNextPage,
	}, nil
}

func (c *Client) graphql(ctx context.Context, query string, variables map[string]any) (*graphqlResponse, error) {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, eris.Wrap(err, "ows: marshal graphql request")
	}

	gqlURL := c.baseURL + "/v3/graphql"
	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, gqlURL, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		c.setHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, resilience.NewStatusError(resp.StatusCode, gqlURL)
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, eris.Wrap(err, "ows: graphql request")
	}

	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "ows: decode graphql response")
	}
	if len(resp.Errors) > 0 {
		return nil, eris.Errorf("ows: graphql error: %s", resp.Errors[0].Message)
	}
	return &resp, nil
}
