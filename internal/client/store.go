package client

import "context"

// Store persists client registrations.
type Store interface {
	Create(ctx context.Context, c *Client) error
	Find(ctx context.Context, id string) (*Client, error)
	List(ctx context.Context) ([]Summary, error)
	Update(ctx context.Context, c *Client) error
	SoftDelete(ctx context.Context, id string) error
}
