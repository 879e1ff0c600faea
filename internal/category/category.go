// Package category keeps the category registry the ledger validates
// postings against. The tree is at most two levels deep: a category is
// either top-level or the child of a top-level category.
package category

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a category and must match the kind of every posting
// recorded against it.
type Kind string

const (
	KindIncome  Kind = "INCOME"
	KindExpense Kind = "EXPENSE"
)

// Valid reports whether k is a known category kind.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// Category is a node in a user's category tree.
type Category struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned when a category does not exist or belongs to a
// different owner. Ownership is never leaked through a distinct error.
var ErrNotFound = errors.New("category not found")

// ValidationError reports a rejected category write.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid category: " + e.Reason
}

// Store is the durable view of categories.
type Store interface {
	GetCategory(ctx context.Context, id string) (*Category, error)
	CreateCategory(ctx context.Context, c *Category) error
	ListCategories(ctx context.Context, ownerID string) ([]*Category, error)
}

// Registry enforces the tree-shape invariants at write time: a parent
// must itself be top-level, a category can never be its own parent, and
// a child's kind must match its parent's.
type Registry struct {
	store Store
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// CreateRequest carries the fields for a new category.
type CreateRequest struct {
	OwnerID  string
	ParentID string
	Name     string
	Kind     Kind
}

// Create validates and persists a new category.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Category, error) {
	if req.OwnerID == "" {
		return nil, &ValidationError{Reason: "owner is required"}
	}
	if req.Name == "" {
		return nil, &ValidationError{Reason: "name is required"}
	}
	if !req.Kind.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown kind %q", req.Kind)}
	}

	if req.ParentID != "" {
		parent, err := r.Resolve(ctx, req.OwnerID, req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.ParentID != "" {
			return nil, &ValidationError{Reason: "parent category must be top-level"}
		}
		if parent.Kind != req.Kind {
			return nil, &ValidationError{Reason: "kind must match parent kind"}
		}
	}

	c := &Category{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		ParentID:  req.ParentID,
		Name:      req.Name,
		Kind:      req.Kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return c, nil
}

// Resolve loads a category and verifies it belongs to ownerID. A category
// owned by someone else resolves to ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, ownerID, id string) (*Category, error) {
	c, err := r.store.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns all categories belonging to ownerID.
func (r *Registry) List(ctx context.Context, ownerID string) ([]*Category, error) {
	return r.store.ListCategories(ctx, ownerID)
}
