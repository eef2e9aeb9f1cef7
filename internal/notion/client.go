package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/takak2166/notionsnap/internal/retry"
)

// PageSize is the largest page Notion returns for list endpoints
const PageSize = 100

// MaxAppendChildren is the most blocks one append call accepts
const MaxAppendChildren = 100

// Client issues Notion API calls through a shared rate-limited Queue.
// Every method is routed through the queue; there is no other path to the API.
type Client struct {
	client NotionClient
	queue  *Queue

	attempts  int
	baseDelay time.Duration
}

// New wraps a NotionClient so that every call goes through queue
func New(client NotionClient, queue *Queue) *Client {
	return &Client{client: client, queue: queue, attempts: 3, baseDelay: time.Second}
}

// WithRateLimitBackoff overrides how calls rejected with HTTP 429 are retried
func (c *Client) WithRateLimitBackoff(attempts int, baseDelay time.Duration) *Client {
	c.attempts = attempts
	c.baseDelay = baseDelay
	return c
}

// Queue returns the queue this client submits to
func (c *Client) Queue() *Queue {
	return c.queue
}

// Search returns one page of pages and databases shared with the integration
func (c *Client) Search(ctx context.Context, cursor notionapi.Cursor) (*notionapi.SearchResponse, error) {
	return call(ctx, c, "search", func(ctx context.Context) (*notionapi.SearchResponse, error) {
		return c.client.Search().Do(ctx, &notionapi.SearchRequest{
			StartCursor: cursor,
			PageSize:    PageSize,
		})
	})
}

// BlockChildren returns one page of a block's (or page's) children
func (c *Client) BlockChildren(ctx context.Context, id string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error) {
	return call(ctx, c, "blocks.children.list", func(ctx context.Context) (*notionapi.GetChildrenResponse, error) {
		return c.client.Block().GetChildren(ctx, notionapi.BlockID(id), &notionapi.Pagination{
			StartCursor: cursor,
			PageSize:    PageSize,
		})
	})
}

// QueryDatabase returns one page of a database's rows
func (c *Client) QueryDatabase(ctx context.Context, id string, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, c, "databases.query", func(ctx context.Context) (*notionapi.DatabaseQueryResponse, error) {
		return c.client.Database().Query(ctx, notionapi.DatabaseID(id), &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
			PageSize:    PageSize,
		})
	})
}

// CreatePage creates a page
func (c *Client) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "pages.create", func(ctx context.Context) (*notionapi.Page, error) {
		return c.client.Page().Create(ctx, req)
	})
}

// CreateDatabase creates a database
func (c *Client) CreateDatabase(ctx context.Context, req *notionapi.DatabaseCreateRequest) (*notionapi.Database, error) {
	return call(ctx, c, "databases.create", func(ctx context.Context) (*notionapi.Database, error) {
		return c.client.Database().Create(ctx, req)
	})
}

// AppendChildren appends blocks under parent, splitting into batches Notion accepts.
// It returns the created blocks in order.
func (c *Client) AppendChildren(ctx context.Context, parent string, children []notionapi.Block) ([]notionapi.Block, error) {
	var created []notionapi.Block
	for start := 0; start < len(children); start += MaxAppendChildren {
		end := start + MaxAppendChildren
		if end > len(children) {
			end = len(children)
		}
		batch := children[start:end]
		resp, err := call(ctx, c, "blocks.children.append", func(ctx context.Context) (*notionapi.AppendBlockChildrenResponse, error) {
			return c.client.Block().AppendChildren(ctx, notionapi.BlockID(parent), &notionapi.AppendBlockChildrenRequest{
				Children: batch,
			})
		})
		if err != nil {
			return created, fmt.Errorf("failed to append blocks %d-%d: %w", start, end, err)
		}
		created = append(created, resp.Results...)
	}
	return created, nil
}

// call submits fn to the queue, retrying only when Notion answers 429
func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	return retry.Value(ctx, func(ctx context.Context) (T, error) {
		out, err := Run(ctx, c.queue, op, fn)
		if err != nil && !IsRateLimited(err) {
			return out, retry.Permanent(err)
		}
		return out, err
	}, c.attempts, c.baseDelay)
}
