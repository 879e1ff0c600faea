package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The schema documents are assembled from Go string constants, so a bad
// JSON escape would only surface at compile time inside the router. This
// guards every document against that.
func TestAllSchemasCompile(t *testing.T) {
	v, err := compileSchemas()
	require.NoError(t, err)
	require.NotNil(t, v.createAccount)
	require.NotNil(t, v.movement)
	require.NotNil(t, v.transfer)
	require.NotNil(t, v.createCategory)
	require.NotNil(t, v.createBudget)
}

func TestMovementSchemaAmountPattern(t *testing.T) {
	v, err := compileSchemas()
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := v.movement.Middleware(next)

	cases := map[string]int{
		`{"account_id":"a","category_id":"c","amount":"25.00"}`:  http.StatusOK,
		`{"account_id":"a","category_id":"c","amount":"25"}`:     http.StatusBadRequest,
		`{"account_id":"a","category_id":"c","amount":"25.0"}`:   http.StatusBadRequest,
		`{"account_id":"a","category_id":"c","amount":"25.005"}`: http.StatusBadRequest,
		`{"account_id":"a","category_id":"c","amount":"-25.00"}`: http.StatusBadRequest,
	}
	for body, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "body %s", body)
	}
}
