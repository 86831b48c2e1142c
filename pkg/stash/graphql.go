package stash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPGraphQLClient posts GraphQL-shaped JSON to Stash's own API. It sends
// only the UpdateSceneTags mutation, which writes a scene's tag list, and
// the single-scene FindScene query; it issues no other query.
type HTTPGraphQLClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPGraphQLClient builds a client posting to endpoint (Stash's
// /graphql path), authenticating with apiKey when non-empty.
func NewHTTPGraphQLClient(endpoint, apiKey string) *HTTPGraphQLClient {
	return &HTTPGraphQLClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Client = (*HTTPGraphQLClient)(nil)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

const updateSceneTagsMutation = `
mutation SceneUpdate($id: ID!, $tag_ids: [ID!]) {
  sceneUpdate(input: { id: $id, tag_ids: $tag_ids }) { id }
}`

// UpdateSceneTags overwrites sceneID's full tag list via Stash's
// sceneUpdate GraphQL mutation.
func (c *HTTPGraphQLClient) UpdateSceneTags(ctx context.Context, sceneID string, tagIDs []string) error {
	_, err := c.do(ctx, graphQLRequest{
		Query: updateSceneTagsMutation,
		Variables: map[string]any{
			"id":      sceneID,
			"tag_ids": tagIDs,
		},
	})
	return err
}

const findSceneQuery = `
query FindScene($id: ID!) {
  findScene(id: $id) { id title tags { id } }
}`

type findSceneResult struct {
	FindScene *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Tags  []struct {
			ID string `json:"id"`
		} `json:"tags"`
	} `json:"findScene"`
}

// FindScene looks up a scene through Stash's GraphQL API. The read path
// normally goes through PGReflector; this exists so HTTPGraphQLClient alone
// satisfies the Client interface for deployments without direct DB access
// to Stash's catalog.
func (c *HTTPGraphQLClient) FindScene(ctx context.Context, sceneID string) (*Scene, error) {
	data, err := c.do(ctx, graphQLRequest{Query: findSceneQuery, Variables: map[string]any{"id": sceneID}})
	if err != nil {
		return nil, err
	}

	var result findSceneResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode findScene result: %w", err)
	}
	if result.FindScene == nil {
		return nil, nil
	}

	tagIDs := make([]string, len(result.FindScene.Tags))
	for i, t := range result.FindScene.Tags {
		tagIDs[i] = t.ID
	}
	return &Scene{ID: result.FindScene.ID, Title: result.FindScene.Title, TagIDs: tagIDs}, nil
}

func (c *HTTPGraphQLClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping stash: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (c *HTTPGraphQLClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("ApiKey", c.apiKey)
	}
}

func (c *HTTPGraphQLClient) do(ctx context.Context, gqlReq graphQLRequest) (json.RawMessage, error) {
	body, err := json.Marshal(gqlReq)
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call stash graphql: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stash graphql returned HTTP %d", resp.StatusCode)
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("stash graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}
