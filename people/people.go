// Package people holds the Person records listed by the auth service.
package people

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/ggoodman/realmguard/storage"
)

const (
	collection = "persons"
	seqKey     = "persons"
)

// ErrInvalidPerson is returned by Save for records missing a name or
// carrying an unparseable email address.
var ErrInvalidPerson = errors.New("invalid person")

// Person is a directory entry.
type Person struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Repository stores Persons in the "persons" collection. IDs are allocated
// sequentially starting at 1.
type Repository struct {
	store storage.Storage

	// mu serializes id allocation within this process.
	mu sync.Mutex
}

// NewRepository returns a Repository backed by s.
func NewRepository(s storage.Storage) *Repository {
	return &Repository{store: s}
}

// List returns every Person ordered by ID.
func (r *Repository) List(ctx context.Context) ([]Person, error) {
	entries, err := r.store.List(ctx, storage.WithCollection(collection))
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	out := make([]Person, 0, len(entries))
	for _, e := range entries {
		var p Person
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode person %s: %w", e.Key, err)
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Person) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Get returns the Person with the given id, or false if there is none.
func (r *Repository) Get(ctx context.Context, id int64) (Person, bool, error) {
	item, err := r.store.Get(ctx, strconv.FormatInt(id, 10), storage.WithCollection(collection))
	if err != nil {
		return Person{}, false, fmt.Errorf("get person %d: %w", id, err)
	}
	if item == nil {
		return Person{}, false, nil
	}
	var p Person
	if err := json.Unmarshal(item.Data, &p); err != nil {
		return Person{}, false, fmt.Errorf("decode person %d: %w", id, err)
	}
	return p, true, nil
}

// Save inserts p, or replaces the existing record when p.ID is set. The
// stored record is returned.
func (r *Repository) Save(ctx context.Context, p Person) (Person, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if p.Name == "" {
		return Person{}, fmt.Errorf("%w: name is required", ErrInvalidPerson)
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return Person{}, fmt.Errorf("%w: email %q: %w", ErrInvalidPerson, p.Email, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == 0 {
		id, err := r.nextID(ctx)
		if err != nil {
			return Person{}, err
		}
		p.ID = id
	}

	data, err := json.Marshal(p)
	if err != nil {
		return Person{}, fmt.Errorf("encode person: %w", err)
	}
	if err := r.store.Set(ctx, strconv.FormatInt(p.ID, 10), data, storage.WithCollection(collection)); err != nil {
		return Person{}, fmt.Errorf("save person %d: %w", p.ID, err)
	}
	return p, nil
}

// Count returns the number of stored Persons.
func (r *Repository) Count(ctx context.Context) (int, error) {
	entries, err := r.store.List(ctx, storage.WithCollection(collection))
	if err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return len(entries), nil
}

func (r *Repository) nextID(ctx context.Context) (int64, error) {
	var last int64
	item, err := r.store.Get(ctx, seqKey, storage.WithCollection("sequences"))
	if err != nil {
		return 0, fmt.Errorf("read person sequence: %w", err)
	}
	if item != nil {
		if last, err = strconv.ParseInt(string(item.Data), 10, 64); err != nil {
			return 0, fmt.Errorf("corrupt person sequence: %w", err)
		}
	}
	next := last + 1
	if err := r.store.Set(ctx, seqKey, []byte(strconv.FormatInt(next, 10)), storage.WithCollection("sequences")); err != nil {
		return 0, fmt.Errorf("advance person sequence: %w", err)
	}
	return next, nil
}

// Samples are the directory entries seeded into an empty repository.
var Samples = []Person{
	{Name: "John Doe", Email: "john.doe@example.com"},
	{Name: "Jane Smith", Email: "jane.smith@example.com"},
	{Name: "Bob Johnson", Email: "bob.johnson@example.com"},
}

// Seed saves Samples when the repository is empty and reports how many
// records were written.
func Seed(ctx context.Context, r *Repository) (int, error) {
	n, err := r.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for _, p := range Samples {
		if _, err := r.Save(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(Samples), nil
}
