package category_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/storage/memory"
)

const testOwner = "owner-1"

func newRegistry() *category.Registry {
	return category.NewRegistry(memory.NewStore())
}

func mustCreate(t *testing.T, r *category.Registry, req category.CreateRequest) *category.Category {
	t.Helper()
	c, err := r.Create(context.Background(), req)
	require.NoError(t, err)
	return c
}

func TestCreateTopLevelAndChild(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	parent := mustCreate(t, r, category.CreateRequest{OwnerID: testOwner, Name: "Food", Kind: category.KindExpense})
	child := mustCreate(t, r, category.CreateRequest{OwnerID: testOwner, ParentID: parent.ID, Name: "Groceries", Kind: category.KindExpense})

	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, category.KindExpense, child.Kind)

	got, err := r.Resolve(ctx, testOwner, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Name)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	parent := mustCreate(t, r, category.CreateRequest{OwnerID: testOwner, Name: "Food", Kind: category.KindExpense})
	child := mustCreate(t, r, category.CreateRequest{OwnerID: testOwner, ParentID: parent.ID, Name: "Groceries", Kind: category.KindExpense})

	testCases := []struct {
		name string
		req  category.CreateRequest
	}{
		{"missing owner", category.CreateRequest{Name: "Food", Kind: category.KindExpense}},
		{"missing name", category.CreateRequest{OwnerID: testOwner, Kind: category.KindExpense}},
		{"unknown kind", category.CreateRequest{OwnerID: testOwner, Name: "Food", Kind: "TRANSFER"}},
		{"parent not top-level", category.CreateRequest{OwnerID: testOwner, ParentID: child.ID, Name: "Produce", Kind: category.KindExpense}},
		{"kind differs from parent", category.CreateRequest{OwnerID: testOwner, ParentID: parent.ID, Name: "Salary", Kind: category.KindIncome}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Create(ctx, tc.req)
			var verr *category.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestForeignParentIsNotFound(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	parent := mustCreate(t, r, category.CreateRequest{OwnerID: "someone-else", Name: "Food", Kind: category.KindExpense})

	_, err := r.Create(ctx, category.CreateRequest{OwnerID: testOwner, ParentID: parent.ID, Name: "Groceries", Kind: category.KindExpense})
	assert.ErrorIs(t, err, category.ErrNotFound)
}

func TestResolveHidesForeignCategories(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	c := mustCreate(t, r, category.CreateRequest{OwnerID: testOwner, Name: "Food", Kind: category.KindExpense})

	_, err := r.Resolve(ctx, "someone-else", c.ID)
	assert.ErrorIs(t, err, category.ErrNotFound)

	_, err = r.Resolve(ctx, testOwner, "no-such-id")
	assert.ErrorIs(t, err, category.ErrNotFound)
}

func TestListIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	mustCreate(t, r, category.CreateRequest{OwnerID: testOwner, Name: "Food", Kind: category.KindExpense})
	mustCreate(t, r, category.CreateRequest{OwnerID: testOwner, Name: "Salary", Kind: category.KindIncome})
	mustCreate(t, r, category.CreateRequest{OwnerID: "someone-else", Name: "Rent", Kind: category.KindExpense})

	got, err := r.List(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
