package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

const reviewThreadsQuery = `query($owner: String!, $name: String!, $number: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      reviewThreads(first: 50, after: $after) {
        pageInfo { hasNextPage endCursor }
        nodes {
          id
          isResolved
          path
          line
          comments(first: 100) {
            nodes { databaseId body createdAt author { login } }
          }
        }
      }
    }
  }
}`

const resolveThreadMutation = `mutation($id: ID!) {
  resolveReviewThread(input: {threadId: $id}) { thread { id isResolved } }
}`

const unresolveThreadMutation = `mutation($id: ID!) {
  unresolveReviewThread(input: {threadId: $id}) { thread { id isResolved } }
}`

type gqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// graphql runs one query. GraphQL reports most failures with a 200 status,
// so the error list is mapped onto the same sentinels as REST failures.
func (c *Client) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	var resp gqlResponse
	in := map[string]any{"query": query, "variables": vars}
	if err := c.p.do(ctx, c.token, http.MethodPost, c.p.graphqlURL, in, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		e := resp.Errors[0]
		switch e.Type {
		case "NOT_FOUND":
			return fmt.Errorf("%w: github graphql: %s", domain.ErrNotFound, e.Message)
		case "FORBIDDEN":
			return fmt.Errorf("%w: github graphql: %s", domain.ErrUnauthorized, e.Message)
		case "RATE_LIMITED":
			return &domain.RateLimitError{RetryAfter: time.Minute}
		}
		return fmt.Errorf("%w: github graphql: %s", domain.ErrValidation, e.Message)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%w: github graphql parse: %w", domain.ErrNetwork, err)
	}
	return nil
}

type gqlThread struct {
	ID         string `json:"id"`
	IsResolved bool   `json:"isResolved"`
	Path       string `json:"path"`
	Line       *int   `json:"line"`
	Comments   struct {
		Nodes []struct {
			DatabaseID int64     `json:"databaseId"`
			Body       string    `json:"body"`
			CreatedAt  time.Time `json:"createdAt"`
			Author     *struct {
				Login string `json:"login"`
			} `json:"author"`
		} `json:"nodes"`
	} `json:"comments"`
}

func (c *Client) ListReviewComments(ctx context.Context, pr int) ([]repo.ReviewThread, error) {
	var threads []repo.ReviewThread
	var after *string
	for page := 0; page < maxPages; page++ {
		var data struct {
			Repository struct {
				PullRequest *struct {
					ReviewThreads struct {
						PageInfo struct {
							HasNextPage bool   `json:"hasNextPage"`
							EndCursor   string `json:"endCursor"`
						} `json:"pageInfo"`
						Nodes []gqlThread `json:"nodes"`
					} `json:"reviewThreads"`
				} `json:"pullRequest"`
			} `json:"repository"`
		}
		vars := map[string]any{"owner": c.ref.Owner, "name": c.ref.Name, "number": pr, "after": after}
		err := c.p.call(ctx, "ListReviewComments", func(int) error {
			return c.graphql(ctx, reviewThreadsQuery, vars, &data)
		})
		if err != nil {
			return nil, err
		}
		if data.Repository.PullRequest == nil {
			return nil, fmt.Errorf("%w: pull request #%d", domain.ErrNotFound, pr)
		}
		rt := data.Repository.PullRequest.ReviewThreads
		for i := range rt.Nodes {
			threads = append(threads, toThread(&rt.Nodes[i]))
		}
		if !rt.PageInfo.HasNextPage {
			break
		}
		cursor := rt.PageInfo.EndCursor
		after = &cursor
	}
	return threads, nil
}

func toThread(g *gqlThread) repo.ReviewThread {
	t := repo.ReviewThread{ID: g.ID, Path: g.Path, Resolved: g.IsResolved}
	if g.Line != nil {
		t.Line = *g.Line
	}
	for _, n := range g.Comments.Nodes {
		rc := repo.ReviewComment{ID: fmt.Sprint(n.DatabaseID), Body: n.Body, CreatedAt: n.CreatedAt}
		if n.Author != nil {
			rc.Author = n.Author.Login
		} else {
			rc.Author = "ghost"
		}
		t.Comments = append(t.Comments, rc)
	}
	return t
}

func (c *Client) ResolveThread(ctx context.Context, threadID string) error {
	return c.setThreadResolved(ctx, "ResolveThread", resolveThreadMutation, threadID)
}

func (c *Client) UnresolveThread(ctx context.Context, threadID string) error {
	return c.setThreadResolved(ctx, "UnresolveThread", unresolveThreadMutation, threadID)
}

// setThreadResolved is idempotent on the server, so it is safe to retry.
func (c *Client) setThreadResolved(ctx context.Context, op, mutation, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("%w: thread id is required", domain.ErrValidation)
	}
	return c.p.call(ctx, op, func(int) error {
		return c.graphql(ctx, mutation, map[string]any{"id": threadID}, nil)
	})
}
