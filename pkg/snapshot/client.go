// Package snapshot is a client for the Snapshot hub GraphQL API.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/retry"
)

const proposalsQuery = `query Proposals($space: String!, $createdGt: Int!, $first: Int!) {
  proposals(
    first: $first
    where: {space_in: [$space], created_gt: $createdGt}
    orderBy: "created"
    orderDirection: asc
  ) {
    id
    title
    body
    created
    start
    end
    link
    choices
    scores
    scores_total
    scores_state
    quorum
    state
    flagged
  }
}`

const votesQuery = `query Votes($space: String!, $voters: [String!]!, $createdGt: Int!, $first: Int!) {
  votes(
    first: $first
    where: {voter_in: $voters, space: $space, created_gt: $createdGt}
    orderBy: "created"
    orderDirection: asc
  ) {
    id
    voter
    created
    choice
    vp
    reason
    proposal {
      id
      choices
    }
  }
}`

// Proposal is a Snapshot proposal as returned by the hub.
type Proposal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Created     int64     `json:"created"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	Link        string    `json:"link"`
	Choices     []string  `json:"choices"`
	Scores      []float64 `json:"scores"`
	ScoresTotal float64   `json:"scores_total"`
	ScoresState string    `json:"scores_state"`
	Quorum      float64   `json:"quorum"`
	State       string    `json:"state"`
	Flagged     bool      `json:"flagged"`
}

// Vote is a Snapshot ballot. Choice is an index, an index array or a weight map
// depending on the voting type of the proposal.
type Vote struct {
	ID       string          `json:"id"`
	Voter    string          `json:"voter"`
	Created  int64           `json:"created"`
	Choice   json.RawMessage `json:"choice"`
	VP       float64         `json:"vp"`
	Reason   string          `json:"reason"`
	Proposal struct {
		ID      string   `json:"id"`
		Choices []string `json:"choices"`
	} `json:"proposal"`
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse[T any] struct {
	Data   T          `json:"data"`
	Errors []gqlError `json:"errors"`
}

// Client queries the Snapshot hub.
type Client struct {
	url      string
	pageSize int
	deadline time.Duration
	http     *http.Client
	exec     *retry.Executor
	logger   *zap.Logger
}

// NewClient creates a hub client from configuration.
func NewClient(cfg *config.SnapshotConfig, logger *zap.Logger) *Client {
	return &Client{
		url:      cfg.URL,
		pageSize: cfg.PageSize,
		deadline: cfg.Deadline,
		http:     &http.Client{Timeout: cfg.ResponseTimeout},
		exec:     retry.New("snapshot", cfg.MaxAttempts, cfg.BaseDelay, logger),
		logger:   logger,
	}
}

// WithExecutor replaces the retry executor.
func (c *Client) WithExecutor(exec *retry.Executor) *Client {
	c.exec = exec
	return c
}

// Proposals returns up to one page of proposals of space created after createdGt (unix seconds).
func (c *Client) Proposals(ctx context.Context, space string, createdGt int64) ([]Proposal, error) {
	var resp gqlResponse[struct {
		Proposals []Proposal `json:"proposals"`
	}]
	err := c.query(ctx, proposalsQuery, map[string]any{
		"space":     space,
		"createdGt": createdGt,
		"first":     c.pageSize,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proposals of %s: %w", space, err)
	}
	return resp.Data.Proposals, nil
}

// Votes returns up to one page of votes cast in space by voters after createdGt (unix seconds).
func (c *Client) Votes(ctx context.Context, space string, voters []string, createdGt int64) ([]Vote, error) {
	var resp gqlResponse[struct {
		Votes []Vote `json:"votes"`
	}]
	err := c.query(ctx, votesQuery, map[string]any{
		"space":     space,
		"voters":    voters,
		"createdGt": createdGt,
		"first":     c.pageSize,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch votes of %s: %w", space, err)
	}
	return resp.Data.Votes, nil
}

type errorCarrier interface {
	graphQLErrors() []gqlError
}

func (r *gqlResponse[T]) graphQLErrors() []gqlError { return r.Errors }

func (c *Client) query(ctx context.Context, query string, vars map[string]any, out errorCarrier) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	if c.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}

	return c.exec.DoURL(ctx, retry.Fixed(c.url), func(ctx context.Context, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("hub returned status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return retry.Permanent(fmt.Errorf("hub returned status %d: %s", resp.StatusCode, truncate(payload)))
		}

		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if errs := out.graphQLErrors(); len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Message)
			}
			return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
		}
		return nil
	})
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
