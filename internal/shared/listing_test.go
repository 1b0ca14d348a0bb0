package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

func numbers(n int) ListFunc[int] {
	return func(_ context.Context, limit, offset int) ([]int, int, error) {
		var out []int
		for i := offset; i < n && len(out) < limit; i++ {
			out = append(out, i+1)
		}
		return out, n, nil
	}
}

func TestRespondPage(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		total   int
		status  int
		results []int
		next    string
		prev    string
	}{
		{name: "first page", target: "/items?page_size=2", total: 5, status: 200, results: []int{1, 2},
			next: "http://example.com/items?page=2&page_size=2"},
		{name: "middle page", target: "/items?page=2&page_size=2", total: 5, status: 200, results: []int{3, 4},
			next: "http://example.com/items?page=3&page_size=2", prev: "http://example.com/items?page_size=2"},
		{name: "last page", target: "/items?page=3&page_size=2", total: 5, status: 200, results: []int{5},
			prev: "http://example.com/items?page=2&page_size=2"},
		{name: "empty collection", target: "/items", total: 0, status: 200, results: []int{}},
		{name: "past the end", target: "/items?page=4&page_size=2", total: 5, status: 404},
		{name: "garbage page", target: "/items?page=abc", total: 5, status: 404},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondPage(rec, httptest.NewRequest(http.MethodGet, tc.target, nil), numbers(tc.total))
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status != http.StatusOK {
				assert.Contains(t, rec.Body.String(), "Invalid page.")
				return
			}
			var page Page[int]
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
			assert.Equal(t, tc.total, page.Count)
			assert.Equal(t, tc.results, page.Results)
			if tc.next == "" {
				assert.Nil(t, page.Next)
			} else {
				require.NotNil(t, page.Next)
				assert.Equal(t, tc.next, *page.Next)
			}
			if tc.prev == "" {
				assert.Nil(t, page.Previous)
			} else {
				require.NotNil(t, page.Previous)
				assert.Equal(t, tc.prev, *page.Previous)
			}
		})
	}
}

func TestRespondPageFetchError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondPage(rec, httptest.NewRequest(http.MethodGet, "/items", nil),
		func(context.Context, int, int) ([]int, int, error) { return nil, 0, errors.New("db down") })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestIDParam(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]int64{"id": id})
	})

	for target, status := range map[string]int{
		"/things/42":  http.StatusOK,
		"/things/0":   http.StatusNotFound,
		"/things/-3":  http.StatusNotFound,
		"/things/abc": http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, status, rec.Code, target)
	}
}

func TestQueryID(t *testing.T) {
	id, err := QueryID(httptest.NewRequest(http.MethodGet, "/x", nil), "user")
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = QueryID(httptest.NewRequest(http.MethodGet, "/x?user=7", nil), "user")
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)

	_, err = QueryID(httptest.NewRequest(http.MethodGet, "/x?user=seven", nil), "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.Equal(t, "user: Enter a whole number.", err.Error())
}
