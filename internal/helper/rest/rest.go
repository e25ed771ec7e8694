// Package rest is a helper that drives an HTTP API and asserts on its responses.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"conductor/internal/config"
	"conductor/internal/helper"
	"conductor/internal/template"
)

// maxBodySize limits the response body kept for assertions.
const maxBodySize = 10 * 1024 * 1024

// Response is the last response received.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
}

// Helper sends requests to cfg.Endpoint. Relative URLs are resolved against it.
type Helper struct {
	cfg    config.RESTConfig
	client *http.Client

	mu      sync.Mutex
	headers map[string]string
	last    *Response
}

// New creates the helper. A nil client uses one with cfg.Timeout. With a
// non-nil dump every request and response is written to it.
func New(cfg config.RESTConfig, client *http.Client, dump io.Writer) *Helper {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if dump != nil {
		client = withDump(client, dump)
	}
	return &Helper{cfg: cfg, client: client, headers: map[string]string{}}
}

func (h *Helper) Name() string { return "REST" }

func (h *Helper) Methods() []helper.Method {
	return []helper.Method{
		{Name: "sendGetRequest", Fn: h.sendGetRequest},
		{Name: "sendPostRequest", Fn: h.sendPostRequest},
		{Name: "sendPutRequest", Fn: h.sendPutRequest},
		{Name: "sendPatchRequest", Fn: h.sendPatchRequest},
		{Name: "sendDeleteRequest", Fn: h.sendDeleteRequest},
		{Name: "haveRequestHeaders", Fn: h.haveRequestHeaders},
		{Name: "seeResponseCodeIs", Fn: h.seeResponseCodeIs},
		{Name: "seeResponseCodeIsSuccessful", Fn: h.seeResponseCodeIsSuccessful},
		{Name: "seeResponseContains", Fn: h.seeResponseContains},
		{Name: "seeResponseContainsJSON", Fn: h.seeResponseContainsJSON},
		{Name: "grabResponse", Fn: h.grabResponse},
		{Name: "grabFromResponse", Fn: h.grabFromResponse},
	}
}

// Before clears headers and the last response between tests.
func (h *Helper) Before(context.Context, string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.headers = map[string]string{}
	h.last = nil
	return nil
}

// Last returns the last response, or nil.
func (h *Helper) Last() *Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Helper) sendGetRequest(ctx context.Context, args ...any) (any, error) {
	return h.send(ctx, http.MethodGet, "sendGetRequest", args, false)
}

func (h *Helper) sendPostRequest(ctx context.Context, args ...any) (any, error) {
	return h.send(ctx, http.MethodPost, "sendPostRequest", args, true)
}

func (h *Helper) sendPutRequest(ctx context.Context, args ...any) (any, error) {
	return h.send(ctx, http.MethodPut, "sendPutRequest", args, true)
}

func (h *Helper) sendPatchRequest(ctx context.Context, args ...any) (any, error) {
	return h.send(ctx, http.MethodPatch, "sendPatchRequest", args, true)
}

func (h *Helper) sendDeleteRequest(ctx context.Context, args ...any) (any, error) {
	return h.send(ctx, http.MethodDelete, "sendDeleteRequest", args, false)
}

// send takes (url[, payload], headers) and returns the decoded response body.
func (h *Helper) send(ctx context.Context, method, name string, args []any, withBody bool) (any, error) {
	url, err := helper.StringArg(name, args, 0)
	if err != nil {
		return nil, err
	}
	headerIdx := 1
	var body io.Reader
	var contentType string
	if withBody {
		headerIdx = 2
		if len(args) > 1 {
			body, contentType, err = encodePayload(args[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	extra, err := helper.MapArg(name, args, headerIdx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, h.resolve(url), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	h.mu.Lock()
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	h.mu.Unlock()
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body) // drain errors are ignorable

	last := &Response{Status: resp.StatusCode, Header: resp.Header, Body: data, Duration: duration}
	h.mu.Lock()
	h.last = last
	h.mu.Unlock()
	return last.value(), nil
}

func (h *Helper) resolve(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return strings.TrimRight(h.cfg.Endpoint, "/") + "/" + strings.TrimLeft(url, "/")
}

func encodePayload(payload any) (io.Reader, string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(p), "", nil
	case []byte:
		return bytes.NewReader(p), "", nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, "", fmt.Errorf("encoding payload: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

// value decodes a JSON body, or returns it as a string.
func (r *Response) value() any {
	if gjson.ValidBytes(r.Body) {
		return gjson.ParseBytes(r.Body).Value()
	}
	return string(r.Body)
}

func (h *Helper) response(name string) (*Response, error) {
	last := h.Last()
	if last == nil {
		return nil, fmt.Errorf("%s: no request was sent", name)
	}
	return last, nil
}

func (h *Helper) haveRequestHeaders(_ context.Context, args ...any) (any, error) {
	headers, err := helper.MapArg("haveRequestHeaders", args, 0)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range headers {
		h.headers[k] = v
	}
	return nil, nil
}

func (h *Helper) seeResponseCodeIs(_ context.Context, args ...any) (any, error) {
	code, err := helper.IntArg("seeResponseCodeIs", args, 0)
	if err != nil {
		return nil, err
	}
	last, err := h.response("seeResponseCodeIs")
	if err != nil {
		return nil, err
	}
	if last.Status != code {
		return nil, &helper.AssertionError{
			Expected: fmt.Sprintf("response code to be %d", code),
			Actual:   fmt.Sprint(last.Status),
		}
	}
	return nil, nil
}

func (h *Helper) seeResponseCodeIsSuccessful(context.Context, ...any) (any, error) {
	last, err := h.response("seeResponseCodeIsSuccessful")
	if err != nil {
		return nil, err
	}
	if last.Status < 200 || last.Status > 299 {
		return nil, &helper.AssertionError{Expected: "response code to be 2xx", Actual: fmt.Sprint(last.Status)}
	}
	return nil, nil
}

func (h *Helper) seeResponseContains(_ context.Context, args ...any) (any, error) {
	text, err := helper.StringArg("seeResponseContains", args, 0)
	if err != nil {
		return nil, err
	}
	last, err := h.response("seeResponseContains")
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(last.Body, []byte(text)) {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("response to contain %q", text)}
	}
	return nil, nil
}

// seeResponseContainsJSON passes when the expected object is a subset of the
// response, or of any element when the response is an array.
func (h *Helper) seeResponseContainsJSON(_ context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, &helper.ArgError{Method: "seeResponseContainsJSON", Reason: "is required"}
	}
	last, err := h.response("seeResponseContainsJSON")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(last.Body) {
		return nil, &helper.AssertionError{Expected: "response to be JSON", Actual: excerpt(last.Body)}
	}
	expected, err := normalize(args[0])
	if err != nil {
		return nil, err
	}
	actual := gjson.ParseBytes(last.Body).Value()
	if list, ok := actual.([]any); ok {
		for _, item := range list {
			if containsJSON(item, expected) {
				return nil, nil
			}
		}
	} else if containsJSON(actual, expected) {
		return nil, nil
	}
	want, _ := json.Marshal(expected)
	return nil, &helper.AssertionError{
		Expected: fmt.Sprintf("response to contain JSON %s", want),
		Actual:   excerpt(last.Body),
	}
}

func (h *Helper) grabResponse(context.Context, ...any) (any, error) {
	last, err := h.response("grabResponse")
	if err != nil {
		return nil, err
	}
	return last.value(), nil
}

// grabFromResponse returns the value at a JSONPath such as $.items[0].id.
func (h *Helper) grabFromResponse(_ context.Context, args ...any) (any, error) {
	path, err := helper.StringArg("grabFromResponse", args, 0)
	if err != nil {
		return nil, err
	}
	last, err := h.response("grabFromResponse")
	if err != nil {
		return nil, err
	}
	v, ok := template.Lookup(last.Body, path)
	if !ok {
		return nil, fmt.Errorf("grabFromResponse: path %q not found", path)
	}
	return v, nil
}

// normalize round-trips v through JSON so numbers compare as float64.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding expected JSON: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func containsJSON(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !containsJSON(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) < len(exp) {
			return false
		}
		for i, v := range exp {
			if !containsJSON(act[i], v) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(actual, expected)
	}
}
