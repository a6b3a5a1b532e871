package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/realmguard/storage/memory"
	"github.com/google/uuid"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	s, err := memory.New(100)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewRepository(s)
}

func TestSeed(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	seeded, err := Seed(ctx, r)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(seeded) != 3 {
		t.Fatalf("seeded %d products", len(seeded))
	}
	for _, p := range seeded {
		if _, err := uuid.Parse(p.ID); err != nil {
			t.Fatalf("product id %q is not a uuid: %v", p.ID, err)
		}
		got, ok, err := r.Get(ctx, p.ID)
		if err != nil || !ok || got != p {
			t.Fatalf("Get(%s) = %+v %v %v", p.ID, got, ok, err)
		}
	}
	list, err := r.List(ctx)
	if err != nil || len(list) != 3 {
		t.Fatalf("List = %v, %v", list, err)
	}
}

func TestSaveValidates(t *testing.T) {
	r := newRepo(t)
	for _, p := range []Product{
		{Name: ""},
		{Name: "x", Quantity: -1},
		{Name: "x", Price: -0.5},
	} {
		if _, err := r.Save(context.Background(), p); !errors.Is(err, ErrInvalidProduct) {
			t.Fatalf("Save(%+v) = %v", p, err)
		}
	}
}

func TestSaveKeepsExplicitID(t *testing.T) {
	r := newRepo(t)
	p, err := r.Save(context.Background(), Product{ID: "sku-1", Name: "Widget", Quantity: 3, Price: 2.5})
	if err != nil || p.ID != "sku-1" {
		t.Fatalf("Save = %+v, %v", p, err)
	}
}

func TestComputeStats(t *testing.T) {
	products := []Product{
		{Quantity: 1200}, {Quantity: 11}, // in stock
		{Quantity: 10}, {Quantity: 1}, // low
		{Quantity: 0}, // out
	}
	got := ComputeStats(products)
	want := Stats{Total: 5, InStock: 2, LowStock: 2, OutOfStock: 1}
	if got != want {
		t.Fatalf("ComputeStats = %+v, want %+v", got, want)
	}
	if got := ComputeStats(nil); got != (Stats{}) {
		t.Fatalf("ComputeStats(nil) = %+v", got)
	}
}
