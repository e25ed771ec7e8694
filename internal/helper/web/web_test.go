package web

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/config"
	"conductor/internal/helper"
	"conductor/testserver"
)

func newHelper(t *testing.T) *Helper {
	t.Helper()
	srv := httptest.NewServer(testserver.NewServer().Handler())
	t.Cleanup(srv.Close)
	return New(config.WebConfig{URL: srv.URL}, srv.Client())
}

func do(t *testing.T, h *Helper, name string, args ...any) (any, error) {
	t.Helper()
	for _, m := range h.Methods() {
		if m.Name == name {
			return m.Fn(context.Background(), args...)
		}
	}
	t.Fatalf("no method %s", name)
	return nil, nil
}

func mustDo(t *testing.T, h *Helper, name string, args ...any) any {
	t.Helper()
	v, err := do(t, h, name, args...)
	require.NoError(t, err, name)
	return v
}

func TestBrowseAndAssert(t *testing.T) {
	h := newHelper(t)

	mustDo(t, h, "amOnPage", "/")
	mustDo(t, h, "see", "Welcome to the shop")
	mustDo(t, h, "seeInTitle", "Home")
	mustDo(t, h, "seeElement", "#browse")
	mustDo(t, h, "dontSeeElement", "#items")
	mustDo(t, h, "dontSee", "Checkout")

	mustDo(t, h, "click", "Browse items")
	mustDo(t, h, "seeCurrentURLEquals", "/items")
	mustDo(t, h, "seeElement", "li.item")

	mustDo(t, h, "click", "Tea", "#items")
	mustDo(t, h, "seeInTitle", "Tea - Conductor Shop")
	assert.Equal(t, "Tea", mustDo(t, h, "grabTextFrom", "#name"))
	assert.Equal(t, "2", mustDo(t, h, "grabAttributeFrom", "#add", "data-id"))
}

func TestAssertionFailures(t *testing.T) {
	h := newHelper(t)
	mustDo(t, h, "amOnPage", "/items")

	tests := []struct {
		method string
		args   []any
		want   string
	}{
		{"see", []any{"Milk"}, `expected web page to include "Milk"`},
		{"dontSee", []any{"Coffee"}, `expected web page not to include "Coffee"`},
		{"seeElement", []any{"#missing"}, `expected element "#missing" to be on page`},
		{"dontSeeElement", []any{"li.item"}, `expected element "li.item" not to be on page, but got 2 matching elements`},
		{"seeInTitle", []any{"Cart"}, `expected title to include "Cart", but got "Items - Conductor Shop"`},
		{"seeCurrentURLEquals", []any{"/"}, `expected current url to be "/", but got "/items"`},
		{"click", []any{"Checkout"}, `expected clickable element "Checkout" to be on page`},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := do(t, h, tt.method, tt.args...)
			var ae *helper.AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestNoPageOpen(t *testing.T) {
	h := New(config.WebConfig{URL: "http://localhost"}, nil)
	for _, name := range []string{"see", "seeInTitle", "seeCurrentURLEquals"} {
		_, err := do(t, h, name, "x")
		assert.ErrorContains(t, err, "no page is open", name)
	}
}

func TestGrabTextFromMany(t *testing.T) {
	h := newHelper(t)
	mustDo(t, h, "amOnPage", "/items")

	got := mustDo(t, h, "grabTextFrom", "li.item a")
	assert.Equal(t, []any{"Coffee", "Tea"}, got)

	_, err := do(t, h, "grabAttributeFrom", "#items", "href")
	assert.ErrorContains(t, err, `has no attribute "href"`)
}

func TestWithin(t *testing.T) {
	h := newHelper(t)
	ctx := context.Background()
	mustDo(t, h, "amOnPage", "/")

	require.NoError(t, h.WithinBegin(ctx, "#footer"))
	mustDo(t, h, "see", "Conductor Shop demo")
	_, err := do(t, h, "see", "Welcome")
	assert.Error(t, err, "text outside the scope is hidden")
	require.NoError(t, h.WithinEnd(ctx))

	mustDo(t, h, "see", "Welcome")

	require.NoError(t, h.WithinBegin(ctx, "#sidebar"))
	_, err = do(t, h, "see", "Welcome")
	assert.ErrorContains(t, err, `within element "#sidebar"`)
}

func TestSessions(t *testing.T) {
	h := newHelper(t)
	ctx := context.Background()
	mustDo(t, h, "amOnPage", "/items")

	require.NoError(t, h.SessionStart(ctx, "admin"))
	assert.Equal(t, "admin", h.Session())
	_, err := do(t, h, "see", "Items")
	assert.ErrorContains(t, err, "no page is open", "new session starts blank")
	mustDo(t, h, "amOnPage", "/login")
	require.NoError(t, h.SessionEnd(ctx, "admin"))

	assert.Equal(t, defaultSession, h.Session())
	mustDo(t, h, "seeCurrentURLEquals", "/items")

	require.NoError(t, h.SessionStart(ctx, "admin"))
	mustDo(t, h, "seeCurrentURLEquals", "/login")
	require.NoError(t, h.SessionEnd(ctx, "admin"))

	assert.Error(t, h.SessionEnd(ctx, "admin"))
}

func TestBeforeResets(t *testing.T) {
	h := newHelper(t)
	ctx := context.Background()
	mustDo(t, h, "amOnPage", "/")
	require.NoError(t, h.SessionStart(ctx, "other"))

	require.NoError(t, h.Before(ctx, "next"))
	assert.Equal(t, defaultSession, h.Session())
	_, err := do(t, h, "see", "Welcome")
	assert.ErrorContains(t, err, "no page is open")
}

func TestResolve(t *testing.T) {
	h := New(config.WebConfig{URL: "http://shop.test/app/"}, nil)
	current, err := h.resolve(nil, "/items")
	require.NoError(t, err)
	assert.Equal(t, "http://shop.test/app/items", current.String())

	next, err := h.resolve(current, "items/2?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://shop.test/app/items/2?x=1", next.String())

	abs, err := h.resolve(current, "https://other.test/")
	require.NoError(t, err)
	assert.Equal(t, "https://other.test/", abs.String())
}
