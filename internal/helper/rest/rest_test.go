package rest

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/config"
	"conductor/internal/core"
	"conductor/internal/helper"
	"conductor/testserver"
)

func newHelper(t *testing.T) *Helper {
	t.Helper()
	srv := httptest.NewServer(testserver.NewServer().Handler())
	t.Cleanup(srv.Close)
	return New(config.RESTConfig{Endpoint: srv.URL + "/api"}, srv.Client(), nil)
}

func call(t *testing.T, h *Helper, name string, args ...any) (any, error) {
	t.Helper()
	for _, m := range h.Methods() {
		if m.Name == name {
			return m.Fn(context.Background(), args...)
		}
	}
	t.Fatalf("no method %s", name)
	return nil, nil
}

func TestGetRequest(t *testing.T) {
	h := newHelper(t)

	res, err := call(t, h, "sendGetRequest", "/items/1")
	require.NoError(t, err)
	item, ok := res.(map[string]any)
	require.True(t, ok, "decoded body, got %T", res)
	assert.Equal(t, "Coffee", item["name"])

	_, err = call(t, h, "seeResponseCodeIs", 200)
	assert.NoError(t, err)
	_, err = call(t, h, "seeResponseCodeIsSuccessful")
	assert.NoError(t, err)
	_, err = call(t, h, "seeResponseContains", `"Coffee"`)
	assert.NoError(t, err)
}

func TestResponseCodeMismatch(t *testing.T) {
	h := newHelper(t)

	_, err := call(t, h, "sendGetRequest", "/items/99")
	require.NoError(t, err)

	_, err = call(t, h, "seeResponseCodeIs", "200")
	var ae *helper.AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "expected response code to be 200, but got 404", err.Error())

	_, err = call(t, h, "seeResponseCodeIsSuccessful")
	assert.ErrorAs(t, err, &ae)
}

func TestPostJSONPayload(t *testing.T) {
	h := newHelper(t)

	res, err := call(t, h, "sendPostRequest", "/items", map[string]any{"name": "Juice", "price": 4.25})
	require.NoError(t, err)
	assert.Equal(t, "Juice", res.(map[string]any)["name"])

	_, err = call(t, h, "seeResponseCodeIs", 201)
	require.NoError(t, err)
	_, err = call(t, h, "seeResponseContainsJSON", map[string]any{"name": "Juice", "price": 4.25})
	assert.NoError(t, err)

	id, err := call(t, h, "grabFromResponse", "$.id")
	require.NoError(t, err)
	assert.Equal(t, float64(3), id)
}

func TestPutAndDelete(t *testing.T) {
	h := newHelper(t)

	_, err := call(t, h, "sendPutRequest", "/items/2", map[string]any{"price": 2.5})
	require.NoError(t, err)
	_, err = call(t, h, "seeResponseContainsJSON", map[string]any{"name": "Tea", "price": 2.5})
	require.NoError(t, err)

	_, err = call(t, h, "sendDeleteRequest", "/items/2")
	require.NoError(t, err)
	_, err = call(t, h, "seeResponseCodeIs", 204)
	require.NoError(t, err)

	_, err = call(t, h, "sendGetRequest", "/items/2")
	require.NoError(t, err)
	_, err = call(t, h, "seeResponseCodeIs", 404)
	assert.NoError(t, err)
}

func TestContainsJSONSearchesArrays(t *testing.T) {
	h := newHelper(t)

	_, err := call(t, h, "sendGetRequest", "/items")
	require.NoError(t, err)

	_, err = call(t, h, "seeResponseContainsJSON", map[string]any{"items": []any{map[string]any{"name": "Coffee"}}})
	assert.NoError(t, err)

	_, err = call(t, h, "seeResponseContainsJSON", map[string]any{"items": []any{map[string]any{"name": "Milk"}}})
	assert.Error(t, err)
}

func TestContainsJSON(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"equal scalars", 1.0, 1.0, true},
		{"different scalars", "a", "b", false},
		{"subset object", map[string]any{"a": 1.0, "b": 2.0}, map[string]any{"a": 1.0}, true},
		{"missing key", map[string]any{"a": 1.0}, map[string]any{"c": 1.0}, false},
		{"nested", map[string]any{"a": map[string]any{"b": true, "c": "x"}}, map[string]any{"a": map[string]any{"b": true}}, true},
		{"array prefix", []any{1.0, 2.0, 3.0}, []any{1.0, 2.0}, true},
		{"array too short", []any{1.0}, []any{1.0, 2.0}, false},
		{"type mismatch", []any{1.0}, map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containsJSON(tt.actual, tt.expected))
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	srv := httptest.NewServer(testserver.NewServer().Handler())
	defer srv.Close()
	h := New(config.RESTConfig{Endpoint: srv.URL, Headers: map[string]string{"X-Suite": "smoke"}}, nil, nil)

	_, err := call(t, h, "haveRequestHeaders", map[string]any{"Authorization": "Bearer abc"})
	require.NoError(t, err)
	_, err = call(t, h, "sendGetRequest", "/headers", map[string]any{"X-Once": "1"})
	require.NoError(t, err)

	for header, value := range map[string]string{"$.headers.Authorization": "Bearer abc", "$.headers.X-Suite": "smoke", "$.headers.X-Once": "1"} {
		got, err := call(t, h, "grabFromResponse", header)
		require.NoError(t, err, header)
		assert.Equal(t, value, got, header)
	}

	require.NoError(t, h.Before(context.Background(), "next test"))
	assert.Nil(t, h.Last())
	_, err = call(t, h, "sendGetRequest", "/headers")
	require.NoError(t, err)
	_, err = call(t, h, "grabFromResponse", "$.headers.Authorization")
	assert.Error(t, err, "per-test headers are cleared")
}

func TestAbsoluteURLAndStringPayload(t *testing.T) {
	srv := httptest.NewServer(testserver.NewServer().Handler())
	defer srv.Close()
	h := New(config.RESTConfig{Endpoint: "http://unused.invalid"}, srv.Client(), nil)

	res, err := call(t, h, "sendPostRequest", srv.URL+"/echo", "plain body")
	require.NoError(t, err)
	assert.Equal(t, "plain body", res)

	body, err := call(t, h, "grabResponse")
	require.NoError(t, err)
	assert.Equal(t, "plain body", body)
}

func TestAssertionsWithoutRequest(t *testing.T) {
	h := New(config.RESTConfig{}, nil, nil)
	for _, name := range []string{"seeResponseCodeIsSuccessful", "grabResponse"} {
		_, err := call(t, h, name)
		assert.ErrorContains(t, err, "no request was sent", name)
	}
	_, err := call(t, h, "seeResponseCodeIs", 200)
	assert.ErrorContains(t, err, "no request was sent")
}

func TestMissingURL(t *testing.T) {
	h := New(config.RESTConfig{}, nil, nil)
	_, err := call(t, h, "sendGetRequest")
	var ae *helper.ArgError
	assert.ErrorAs(t, err, &ae)
}

func TestDump(t *testing.T) {
	srv := httptest.NewServer(testserver.NewServer().Handler())
	defer srv.Close()

	var out bytes.Buffer
	h := New(config.RESTConfig{
		Endpoint: srv.URL,
		Headers:  map[string]string{"Authorization": "Bearer s3cret"},
	}, srv.Client(), &out)
	ctx := core.ContextWithWorkerID(context.Background(), 2)
	got, err := h.sendPostRequest(ctx, "/echo", map[string]any{"hello": "world"})
	require.NoError(t, err)
	assert.NotNil(t, got, "the dump leaves the body readable")

	log := out.String()
	assert.Contains(t, log, "[worker 2] >>> POST "+srv.URL+"/echo\n")
	assert.Contains(t, log, "    Authorization: *****\n")
	assert.NotContains(t, log, "s3cret")
	assert.Contains(t, log, `    {"hello":"world"}`)
	assert.Contains(t, log, "[worker 2] <<< 200 OK in ")
	assert.Contains(t, log, "    Content-Type: application/json\n")
}

func TestDump_TransportError(t *testing.T) {
	var out bytes.Buffer
	h := New(config.RESTConfig{Endpoint: "http://127.0.0.1:1"}, nil, &out)

	_, err := h.sendGetRequest(context.Background(), "/items")
	require.Error(t, err)
	assert.Contains(t, out.String(), "[worker 0] >>> GET http://127.0.0.1:1/items\n")
	assert.Contains(t, out.String(), "[worker 0] !!! failed after ")
}

func TestDumpBody_Truncates(t *testing.T) {
	var buf bytes.Buffer
	dumpBody(&buf, bytes.Repeat([]byte("a"), maxDumpBody+10))
	assert.True(t, strings.HasSuffix(buf.String(), "a... (10 more bytes)\n"))

	buf.Reset()
	dumpBody(&buf, nil)
	assert.Empty(t, buf.String())
}
