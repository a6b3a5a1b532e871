// Package inventory models the product catalogue served by the inventory
// service and consumed by the auth service through delegated calls.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/realmguard/storage"
	"github.com/google/uuid"
)

const collection = "products"

// ErrInvalidProduct is returned by Save for records that fail validation.
var ErrInvalidProduct = errors.New("invalid product")

// Product is a catalogue entry. It is also the wire shape of GET /products.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Repository stores Products in the "products" collection keyed by ID.
type Repository struct {
	store storage.Storage
}

// NewRepository returns a Repository backed by s.
func NewRepository(s storage.Storage) *Repository {
	return &Repository{store: s}
}

// List returns every Product ordered by ID.
func (r *Repository) List(ctx context.Context) ([]Product, error) {
	entries, err := r.store.List(ctx, storage.WithCollection(collection))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out := make([]Product, 0, len(entries))
	for _, e := range entries {
		var p Product
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", e.Key, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Get returns the Product with the given id, or false if there is none.
func (r *Repository) Get(ctx context.Context, id string) (Product, bool, error) {
	item, err := r.store.Get(ctx, id, storage.WithCollection(collection))
	if err != nil {
		return Product{}, false, fmt.Errorf("get product %s: %w", id, err)
	}
	if item == nil {
		return Product{}, false, nil
	}
	var p Product
	if err := json.Unmarshal(item.Data, &p); err != nil {
		return Product{}, false, fmt.Errorf("decode product %s: %w", id, err)
	}
	return p, true, nil
}

// Save inserts or replaces p. Products without an ID get a random UUID.
func (r *Repository) Save(ctx context.Context, p Product) (Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return Product{}, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case p.Quantity < 0:
		return Product{}, fmt.Errorf("%w: negative quantity %d", ErrInvalidProduct, p.Quantity)
	case p.Price < 0:
		return Product{}, fmt.Errorf("%w: negative price %v", ErrInvalidProduct, p.Price)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return Product{}, fmt.Errorf("encode product: %w", err)
	}
	if err := r.store.Set(ctx, p.ID, data, storage.WithCollection(collection)); err != nil {
		return Product{}, fmt.Errorf("save product %s: %w", p.ID, err)
	}
	return p, nil
}

// Samples are the products seeded at inventory service start.
var Samples = []Product{
	{Name: "Product 1", Quantity: 1200, Price: 12.0},
	{Name: "Product 2", Quantity: 1000, Price: 12.0},
	{Name: "Product 3", Quantity: 1400, Price: 10.0},
}

// Seed saves a fresh copy of Samples with newly generated IDs.
func Seed(ctx context.Context, r *Repository) ([]Product, error) {
	out := make([]Product, 0, len(Samples))
	for _, p := range Samples {
		saved, err := r.Save(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}
