// Package testserver provides a small demo shop used to exercise the REST and
// web helpers: a JSON items API, HTML pages and a few utility endpoints.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Item is a product of the demo shop.
type Item struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Server is the demo application.
type Server struct {
	router    chi.Router
	requestID atomic.Int64

	mu     sync.Mutex
	items  map[int]Item
	nextID int
	flaky  map[string]int
}

// NewServer creates a server seeded with two items.
func NewServer() *Server {
	s := &Server{
		items:  map[int]Item{},
		flaky:  map[string]int{},
		nextID: 1,
	}
	s.create(Item{Name: "Coffee", Price: 3.5})
	s.create(Item{Name: "Tea", Price: 2})
	s.routes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status/{code}", s.handleStatus)
	r.Get("/delay/{ms}", s.handleDelay)
	r.Post("/echo", s.handleEcho)
	r.Get("/headers", s.handleHeaders)
	r.Get("/flaky/{key}", s.handleFlaky)
	r.Post("/auth/login", s.handleLogin)

	r.Route("/api/items", func(r chi.Router) {
		r.Get("/", s.listItems)
		r.Post("/", s.createItem)
		r.Get("/{id}", s.getItem)
		r.Put("/{id}", s.updateItem)
		r.Delete("/{id}", s.deleteItem)
	})

	r.Get("/", s.pageHome)
	r.Get("/items", s.pageItems)
	r.Get("/items/{id}", s.pageItem)
	r.Get("/login", s.pageLogin)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleStatus returns the requested status code, e.g. GET /status/404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, "%d %s", code, http.StatusText(code))
}

// handleDelay waits before responding, e.g. GET /delay/100 waits 100ms.
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(chi.URLParam(r, "ms"))
	if err != nil || ms < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	fmt.Fprintf(w, "delayed %dms", ms)
}

// handleEcho echoes back the request body with the same content type.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleHeaders returns the request headers as JSON.
func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"headers": headers,
		"method":  r.Method,
		"path":    r.URL.Path,
	})
}

// handleFlaky fails the first ?fails=N calls per key with 503.
func (s *Server) handleFlaky(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	fails, _ := strconv.Atoi(r.URL.Query().Get("fails"))

	s.mu.Lock()
	s.flaky[key]++
	calls := s.flaky[key]
	s.mu.Unlock()

	if calls <= fails {
		http.Error(w, "try again", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "calls": calls})
}

// handleLogin returns a token for any non-empty credentials.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.User == "" || creds.Password == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
		return
	}
	id := s.requestID.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"token":      fmt.Sprintf("token-%d-%d", id, time.Now().UnixNano()),
			"expires_in": 3600,
		},
		"user": map[string]any{"id": id, "name": creds.User},
	})
}

func (s *Server) create(it Item) Item {
	it.ID = s.nextID
	s.nextID++
	s.items[it.ID] = it
	return it
}

func (s *Server) sortedItems() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) lookup(r *http.Request) (Item, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return Item{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.sortedItems()})
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var it Item
	if err := json.NewDecoder(r.Body).Decode(&it); err != nil || it.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "name is required"})
		return
	}
	s.mu.Lock()
	it = s.create(it)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	it, ok := s.lookup(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	it, ok := s.lookup(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	var patch Item
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if patch.Name != "" {
		it.Name = patch.Name
	}
	if patch.Price != 0 {
		it.Price = patch.Price
	}
	s.mu.Lock()
	s.items[it.ID] = it
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	it, ok := s.lookup(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	s.mu.Lock()
	delete(s.items, it.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v) // client went away
}
