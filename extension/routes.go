package extension

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var ErrInvalidRoute = errors.New("invalid route")

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Route is one contributed HTTP route.
type Route struct {
	Method  string
	Pattern string
	Name    string
	Handler http.Handler

	middlewares []Middleware
}

type routeTable struct {
	routes []Route
}

// Routes collects HTTP routes. Contributions run in priority order and the
// first registration of a method and pattern wins.
type Routes struct {
	table       *routeTable
	prefix      string
	middlewares []Middleware
}

// NewRoutes returns an empty route set.
func NewRoutes() *Routes {
	return &Routes{table: &routeTable{}}
}

// Use appends middleware applied to routes registered afterwards on r and
// its groups.
func (r *Routes) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

// Group registers routes under prefix. Middleware added inside fn stays
// scoped to the group.
func (r *Routes) Group(prefix string, fn func(*Routes)) {
	g := &Routes{
		table:       r.table,
		prefix:      r.prefix + strings.TrimSuffix(prefix, "/"),
		middlewares: append([]Middleware(nil), r.middlewares...),
	}
	fn(g)
}

// Handle registers handler for method and pattern.
func (r *Routes) Handle(method, pattern string, handler http.Handler) *Routes {
	r.table.routes = append(r.table.routes, Route{
		Method:      strings.ToUpper(method),
		Pattern:     r.prefix + pattern,
		Handler:     handler,
		middlewares: append([]Middleware(nil), r.middlewares...),
	})
	return r
}

// Get registers a GET handler.
func (r *Routes) Get(pattern string, fn http.HandlerFunc) *Routes {
	return r.Handle(http.MethodGet, pattern, fn)
}

// Post registers a POST handler.
func (r *Routes) Post(pattern string, fn http.HandlerFunc) *Routes {
	return r.Handle(http.MethodPost, pattern, fn)
}

// Named names the most recently registered route.
func (r *Routes) Named(name string) *Routes {
	if n := len(r.table.routes); n > 0 {
		r.table.routes[n-1].Name = name
	}
	return r
}

// All returns the registered routes in registration order.
func (r *Routes) All() []Route {
	return append([]Route(nil), r.table.routes...)
}

// Lookup finds a route by name.
func (r *Routes) Lookup(name string) (Route, bool) {
	for _, rt := range r.table.routes {
		if rt.Name != "" && rt.Name == name {
			return rt, true
		}
	}
	return Route{}, false
}

// Len returns the number of registered routes.
func (r *Routes) Len() int {
	return len(r.table.routes)
}

// Router builds a chi router serving every route. Shadowed duplicates are
// dropped.
func (r *Routes) Router() (chi.Router, error) {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	seen := make(map[string]bool)
	for _, rt := range r.table.routes {
		if !strings.HasPrefix(rt.Pattern, "/") || rt.Handler == nil || rt.Method == "" {
			return nil, fmt.Errorf("%w: %s %q", ErrInvalidRoute, rt.Method, rt.Pattern)
		}
		key := rt.Method + " " + rt.Pattern
		if seen[key] {
			continue
		}
		seen[key] = true

		h := rt.Handler
		for i := len(rt.middlewares) - 1; i >= 0; i-- {
			h = rt.middlewares[i](h)
		}
		if err := mount(mux, rt, h); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// mount registers one route. chi panics on malformed patterns; the panic is
// returned as ErrInvalidRoute so a bad contribution cannot crash the host.
func mount(mux chi.Router, rt Route, h http.Handler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s %q: %v", ErrInvalidRoute, rt.Method, rt.Pattern, p)
		}
	}()
	mux.Method(rt.Method, rt.Pattern, h)
	return nil
}

// String summarizes the route table.
func (r *Routes) String() string {
	var b strings.Builder
	for _, rt := range r.table.routes {
		fmt.Fprintf(&b, "%-7s %s", rt.Method, rt.Pattern)
		if rt.Name != "" {
			fmt.Fprintf(&b, " (%s)", rt.Name)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
