package inventory

import (
	"context"
	"fmt"

	"github.com/ggoodman/realmguard/delegate"
)

// ProductsPath is the inventory service route listing products.
const ProductsPath = "/products"

// Client reads the catalogue from a remote inventory service on behalf of a
// signed-in user.
type Client struct {
	dc *delegate.Client
}

// NewClient wraps a delegate client pointed at the inventory service.
func NewClient(dc *delegate.Client) *Client {
	return &Client{dc: dc}
}

// ListProducts fetches the catalogue with the caller's token. Errors wrap
// delegate.ErrDownstreamUnavailable.
func (c *Client) ListProducts(ctx context.Context, token string) ([]Product, error) {
	var out []Product
	if err := c.dc.GetJSON(ctx, token, ProductsPath, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Product{}
	}
	return out, nil
}

// Listing is what the product page renders. It is always usable: on
// failure Products is empty and Error carries a message for the user.
type Listing struct {
	Products []Product
	Stats    Stats
	Error    string
}

// Load fetches the catalogue and degrades failures into Listing.Error.
func (c *Client) Load(ctx context.Context, token string) Listing {
	products, err := c.ListProducts(ctx, token)
	if err != nil {
		return Listing{
			Products: []Product{},
			Stats:    ComputeStats(nil),
			Error:    fmt.Sprintf("Unable to load products: %v", err),
		}
	}
	return Listing{Products: products, Stats: ComputeStats(products)}
}
