package testserver

import (
	"html/template"
	"net/http"
)

var pages = template.Must(template.New("layout").Parse(`{{define "layout"}}<!DOCTYPE html>
<html>
<head><title>{{.Title}} - Conductor Shop</title></head>
<body>
<nav id="nav"><a href="/">Home</a> <a href="/items">Items</a> <a href="/login">Sign in</a></nav>
<main id="content">{{template "body" .}}</main>
<footer id="footer">Conductor Shop demo</footer>
</body>
</html>{{end}}`))

var (
	homePage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}<h1>Welcome to the shop</h1>
<p class="lead">Fresh drinks every day.</p>
<a id="browse" href="/items">Browse items</a>{{end}}`))

	itemsPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}<h1>Items</h1>
<ul id="items">{{range .Items}}
<li class="item" data-id="{{.ID}}"><a href="/items/{{.ID}}">{{.Name}}</a> <span class="price">{{printf "%.2f" .Price}}</span></li>{{end}}
</ul>{{end}}`))

	itemPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}<h1 id="name">{{.Item.Name}}</h1>
<p class="price">{{printf "%.2f" .Item.Price}}</p>
<button id="add" data-id="{{.Item.ID}}">Add to cart</button>{{end}}`))

	loginPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}<h1>Sign in</h1>
<form id="login" action="/auth/login" method="post">
<label for="user">User</label><input id="user" name="user" type="text">
<label for="password">Password</label><input id="password" name="password" type="password">
<button type="submit">Sign in</button>
</form>{{end}}`))
)

type pageData struct {
	Title string
	Items []Item
	Item  Item
}

func render(w http.ResponseWriter, t *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) pageHome(w http.ResponseWriter, r *http.Request) {
	render(w, homePage, pageData{Title: "Home"})
}

func (s *Server) pageItems(w http.ResponseWriter, r *http.Request) {
	render(w, itemsPage, pageData{Title: "Items", Items: s.sortedItems()})
}

func (s *Server) pageItem(w http.ResponseWriter, r *http.Request) {
	it, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	render(w, itemPage, pageData{Title: it.Name, Item: it})
}

func (s *Server) pageLogin(w http.ResponseWriter, r *http.Request) {
	render(w, loginPage, pageData{Title: "Sign in"})
}
