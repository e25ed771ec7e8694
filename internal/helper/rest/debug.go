package rest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"conductor/internal/core"
)

// maxDumpBody limits how much of a body a dump shows.
const maxDumpBody = 1024

var maskedHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization", "Set-Cookie", "X-Api-Key"}

// dumpTransport writes every exchange to out, one block per request, with
// credential headers masked.
type dumpTransport struct {
	next http.RoundTripper
	out  io.Writer
	mu   sync.Mutex
}

func withDump(c *http.Client, out io.Writer) *http.Client {
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	dumped := *c
	dumped.Transport = &dumpTransport{next: next, out: out}
	return &dumped
}

func (t *dumpTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var buf bytes.Buffer
	worker := core.WorkerIDFromContext(req.Context())
	fmt.Fprintf(&buf, "[worker %d] >>> %s %s\n", worker, req.Method, req.URL)
	dumpHeaders(&buf, req.Header)
	if req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			body, _ := io.ReadAll(rc)
			rc.Close()
			dumpBody(&buf, body)
		}
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	took := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Fprintf(&buf, "[worker %d] !!! failed after %s: %v\n", worker, took, err)
		t.write(buf.Bytes())
		return nil, err
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	fmt.Fprintf(&buf, "[worker %d] <<< %s in %s\n", worker, resp.Status, took)
	dumpHeaders(&buf, resp.Header)
	dumpBody(&buf, body)
	t.write(buf.Bytes())
	if readErr != nil {
		return nil, readErr
	}
	return resp, nil
}

func (t *dumpTransport) write(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.out.Write(b)
}

func dumpHeaders(buf *bytes.Buffer, h http.Header) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		value := strings.Join(h[name], ", ")
		if slices.Contains(maskedHeaders, name) {
			value = "*****"
		}
		fmt.Fprintf(buf, "    %s: %s\n", name, value)
	}
}

func dumpBody(buf *bytes.Buffer, body []byte) {
	if len(body) > 0 {
		fmt.Fprintf(buf, "    %s\n", excerpt(body))
	}
}

// excerpt shortens body for dumps and assertion messages.
func excerpt(body []byte) string {
	if len(body) <= maxDumpBody {
		return string(body)
	}
	return fmt.Sprintf("%s... (%d more bytes)", body[:maxDumpBody], len(body)-maxDumpBody)
}
