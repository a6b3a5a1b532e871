package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/realmguard/delegate"
)

func TestClientRoundTrip(t *testing.T) {
	want := []Product{
		{ID: "a", Name: "Laptop", Quantity: 15, Price: 1299.99},
		{ID: "b", Name: "Cable", Quantity: 4, Price: 9.9},
		{ID: "c", Name: "Dock", Quantity: 0, Price: 199},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ProductsPath || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	c := NewClient(&delegate.Client{BaseURL: srv.URL})
	got, err := c.ListProducts(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d products", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("product %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	l := c.Load(context.Background(), "tok")
	if l.Error != "" || l.Stats != (Stats{Total: 3, InStock: 1, LowStock: 1, OutOfStock: 1}) {
		t.Fatalf("Load = %+v", l)
	}
}

func TestClientEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	got, err := NewClient(&delegate.Client{BaseURL: srv.URL}).ListProducts(context.Background(), "tok")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("ListProducts = %#v, %v", got, err)
	}
}

func TestClientDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(&delegate.Client{BaseURL: srv.URL})
	if _, err := c.ListProducts(context.Background(), "tok"); !errors.Is(err, delegate.ErrDownstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}

	l := c.Load(context.Background(), "tok")
	if l.Products == nil || len(l.Products) != 0 {
		t.Fatalf("Products = %#v, want empty non-nil", l.Products)
	}
	if !strings.HasPrefix(l.Error, "Unable to load products: ") || !strings.Contains(l.Error, "403") {
		t.Fatalf("Error = %q", l.Error)
	}
	if l.Stats != (Stats{}) {
		t.Fatalf("Stats = %+v", l.Stats)
	}
}
