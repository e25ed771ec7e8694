// Package web is a helper for server-rendered HTML pages. Pages are fetched
// over HTTP and queried with CSS selectors; no scripts are executed.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"conductor/internal/config"
	"conductor/internal/helper"
)

const defaultSession = "default"

// page is the state of one browsing session.
type page struct {
	url    *url.URL
	status int
	doc    *goquery.Document
	within []string
}

// Helper keeps one page per named session.
type Helper struct {
	cfg    config.WebConfig
	client *http.Client

	mu       sync.Mutex
	sessions map[string]*page
	active   []string
}

// New creates the helper. A nil client uses one with cfg.Timeout.
func New(cfg config.WebConfig, client *http.Client) *Helper {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	h := &Helper{cfg: cfg, client: client}
	h.reset()
	return h
}

func (h *Helper) Name() string { return "Web" }

func (h *Helper) Methods() []helper.Method {
	return []helper.Method{
		{Name: "amOnPage", Fn: h.amOnPage},
		{Name: "click", Fn: h.click},
		{Name: "see", Fn: h.see},
		{Name: "dontSee", Fn: h.dontSee},
		{Name: "seeElement", Fn: h.seeElement},
		{Name: "dontSeeElement", Fn: h.dontSeeElement},
		{Name: "seeInTitle", Fn: h.seeInTitle},
		{Name: "seeCurrentURLEquals", Fn: h.seeCurrentURLEquals},
		{Name: "grabTextFrom", Fn: h.grabTextFrom},
		{Name: "grabAttributeFrom", Fn: h.grabAttributeFrom},
	}
}

func (h *Helper) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = map[string]*page{defaultSession: {}}
	h.active = []string{defaultSession}
}

// Before starts every test on a blank page in the default session.
func (h *Helper) Before(context.Context, string) error {
	h.reset()
	return nil
}

func (h *Helper) WithinBegin(_ context.Context, locator string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.currentLocked()
	p.within = append(p.within, locator)
	return nil
}

func (h *Helper) WithinEnd(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.currentLocked()
	if n := len(p.within); n > 0 {
		p.within = p.within[:n-1]
	}
	return nil
}

// SessionStart switches to the named session, creating it on first use.
func (h *Helper) SessionStart(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[name]; !ok {
		h.sessions[name] = &page{}
	}
	h.active = append(h.active, name)
	return nil
}

// SessionEnd switches back to the session that was active before name.
func (h *Helper) SessionEnd(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.active)
	if n <= 1 {
		return fmt.Errorf("web: session %q is not active", name)
	}
	h.active = h.active[:n-1]
	return nil
}

// Session returns the name of the active session.
func (h *Helper) Session() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active[len(h.active)-1]
}

func (h *Helper) currentLocked() *page {
	return h.sessions[h.active[len(h.active)-1]]
}

func (h *Helper) open(ctx context.Context, target string) error {
	h.mu.Lock()
	p := h.currentLocked()
	base := p.url
	h.mu.Unlock()

	u, err := h.resolve(base, target)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", u, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	h.mu.Lock()
	p.url = resp.Request.URL
	p.status = resp.StatusCode
	p.doc = doc
	p.within = nil
	h.mu.Unlock()
	return nil
}

// resolve joins root-relative targets to the configured URL and other
// relative targets to the current page.
func (h *Helper) resolve(current *url.URL, target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	if current != nil && !strings.HasPrefix(target, "/") {
		return current.ResolveReference(ref), nil
	}
	base, err := url.Parse(h.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", h.cfg.URL, err)
	}
	joined := *base
	joined.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	joined.RawQuery = ref.RawQuery
	joined.Fragment = ref.Fragment
	return &joined, nil
}

// scope returns the part of the page actions apply to, narrowed by within.
func (h *Helper) scope(method string) (*goquery.Selection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.currentLocked()
	if p.doc == nil {
		return nil, fmt.Errorf("%s: no page is open, call amOnPage first", method)
	}
	sel := p.doc.Selection
	for _, loc := range p.within {
		sel = sel.Find(loc)
		if sel.Length() == 0 {
			return nil, &helper.AssertionError{Expected: fmt.Sprintf("within element %q to be on page", loc)}
		}
	}
	return sel, nil
}

// narrowed applies an optional context locator at args[i].
func (h *Helper) narrowed(method string, args []any, i int) (*goquery.Selection, error) {
	sel, err := h.scope(method)
	if err != nil {
		return nil, err
	}
	loc, err := helper.OptionalString(method, args, i)
	if err != nil || loc == "" {
		return sel, err
	}
	return sel.Find(loc), nil
}

func (h *Helper) amOnPage(ctx context.Context, args ...any) (any, error) {
	target, err := helper.StringArg("amOnPage", args, 0)
	if err != nil {
		return nil, err
	}
	return nil, h.open(ctx, target)
}

// click follows a link matched by CSS or by its text. Buttons without a link
// are accepted and leave the page unchanged.
func (h *Helper) click(ctx context.Context, args ...any) (any, error) {
	locator, err := helper.StringArg("click", args, 0)
	if err != nil {
		return nil, err
	}
	sel, err := h.narrowed("click", args, 1)
	if err != nil {
		return nil, err
	}
	el := sel.Find(locator).First()
	if el.Length() == 0 {
		el = sel.Find("a, button, input[type=submit]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return normalizeSpace(s.Text()) == locator || s.AttrOr("value", "") == locator
		}).First()
	}
	if el.Length() == 0 {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("clickable element %q to be on page", locator)}
	}
	if href, ok := el.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "#") {
		return nil, h.open(ctx, href)
	}
	return nil, nil
}

func (h *Helper) see(_ context.Context, args ...any) (any, error) {
	text, err := helper.StringArg("see", args, 0)
	if err != nil {
		return nil, err
	}
	sel, err := h.narrowed("see", args, 1)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(normalizeSpace(sel.Text()), text) {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("web page to include %q", text)}
	}
	return nil, nil
}

func (h *Helper) dontSee(_ context.Context, args ...any) (any, error) {
	text, err := helper.StringArg("dontSee", args, 0)
	if err != nil {
		return nil, err
	}
	sel, err := h.narrowed("dontSee", args, 1)
	if err != nil {
		return nil, err
	}
	if strings.Contains(normalizeSpace(sel.Text()), text) {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("web page not to include %q", text)}
	}
	return nil, nil
}

func (h *Helper) seeElement(_ context.Context, args ...any) (any, error) {
	locator, err := helper.StringArg("seeElement", args, 0)
	if err != nil {
		return nil, err
	}
	sel, err := h.scope("seeElement")
	if err != nil {
		return nil, err
	}
	if sel.Find(locator).Length() == 0 {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("element %q to be on page", locator)}
	}
	return nil, nil
}

func (h *Helper) dontSeeElement(_ context.Context, args ...any) (any, error) {
	locator, err := helper.StringArg("dontSeeElement", args, 0)
	if err != nil {
		return nil, err
	}
	sel, err := h.scope("dontSeeElement")
	if err != nil {
		return nil, err
	}
	if n := sel.Find(locator).Length(); n > 0 {
		return nil, &helper.AssertionError{
			Expected: fmt.Sprintf("element %q not to be on page", locator),
			Actual:   fmt.Sprintf("%d matching elements", n),
		}
	}
	return nil, nil
}

func (h *Helper) seeInTitle(_ context.Context, args ...any) (any, error) {
	text, err := helper.StringArg("seeInTitle", args, 0)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	doc := h.currentLocked().doc
	h.mu.Unlock()
	if doc == nil {
		return nil, fmt.Errorf("seeInTitle: no page is open, call amOnPage first")
	}
	title := normalizeSpace(doc.Find("title").First().Text())
	if !strings.Contains(title, text) {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("title to include %q", text), Actual: fmt.Sprintf("%q", title)}
	}
	return nil, nil
}

// seeCurrentURLEquals compares a full URL, or the path and query for
// relative values.
func (h *Helper) seeCurrentURLEquals(_ context.Context, args ...any) (any, error) {
	want, err := helper.StringArg("seeCurrentURLEquals", args, 0)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	current := h.currentLocked().url
	h.mu.Unlock()
	if current == nil {
		return nil, fmt.Errorf("seeCurrentURLEquals: no page is open, call amOnPage first")
	}
	got := current.String()
	if !strings.HasPrefix(want, "http://") && !strings.HasPrefix(want, "https://") {
		got = current.RequestURI()
	}
	if got != want {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("current url to be %q", want), Actual: fmt.Sprintf("%q", got)}
	}
	return nil, nil
}

func (h *Helper) grabTextFrom(_ context.Context, args ...any) (any, error) {
	locator, err := helper.StringArg("grabTextFrom", args, 0)
	if err != nil {
		return nil, err
	}
	sel, err := h.find("grabTextFrom", locator)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 1 {
		return normalizeSpace(sel.Text()), nil
	}
	texts := make([]any, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, normalizeSpace(s.Text()))
	})
	return texts, nil
}

func (h *Helper) grabAttributeFrom(_ context.Context, args ...any) (any, error) {
	locator, err := helper.StringArg("grabAttributeFrom", args, 0)
	if err != nil {
		return nil, err
	}
	attr, err := helper.StringArg("grabAttributeFrom", args, 1)
	if err != nil {
		return nil, err
	}
	sel, err := h.find("grabAttributeFrom", locator)
	if err != nil {
		return nil, err
	}
	v, ok := sel.First().Attr(attr)
	if !ok {
		return nil, fmt.Errorf("grabAttributeFrom: %q has no attribute %q", locator, attr)
	}
	return v, nil
}

func (h *Helper) find(method, locator string) (*goquery.Selection, error) {
	sel, err := h.scope(method)
	if err != nil {
		return nil, err
	}
	found := sel.Find(locator)
	if found.Length() == 0 {
		return nil, &helper.AssertionError{Expected: fmt.Sprintf("element %q to be on page", locator)}
	}
	return found, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
