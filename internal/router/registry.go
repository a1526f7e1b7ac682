// Package router holds the RouteRegistry, a small wrapper around
// http.ServeMux that remembers registration order and descriptions so the
// gateway can print a route table on startup. The reflection-based
// WireUpWithMiddleware/WireUpWithSecurityChain variants some registries
// offer are dropped in favour of the caller wrapping handlers with
// security.Chain.Wrap directly, since this gateway's middleware chain is a
// single fixed composition rather than a pluggable one.
package router

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/pterm/pterm"

	"github.com/hestia-project/hestia-gateway/internal/logger"
)

type RouteInfo struct {
	Handler     http.Handler
	Description string
	Method      string
	Order       int
}

// RouteRegistry accumulates routes before a single WireUp call installs them
// on an http.ServeMux and logs a summary table.
type RouteRegistry struct {
	routes   map[string]RouteInfo
	logger   *logger.StyledLogger
	orderSeq int
}

func NewRouteRegistry(log *logger.StyledLogger) *RouteRegistry {
	return &RouteRegistry{
		routes: make(map[string]RouteInfo),
		logger: log,
	}
}

func (r *RouteRegistry) Register(pattern string, handler http.Handler, method, description string) {
	r.routes[pattern] = RouteInfo{
		Handler:     handler,
		Description: description,
		Method:      method,
		Order:       r.orderSeq,
	}
	r.orderSeq++
}

// WireUp installs every registered route on mux and logs the route table.
func (r *RouteRegistry) WireUp(mux *http.ServeMux) {
	for pattern, info := range r.routes {
		mux.Handle(pattern, info.Handler)
	}
	r.logRoutesTable()
}

func (r *RouteRegistry) logRoutesTable() {
	if len(r.routes) == 0 {
		return
	}

	type routeEntry struct {
		path   string
		method string
		desc   string
		order  int
	}

	entries := make([]routeEntry, 0, len(r.routes))
	for route, info := range r.routes {
		entries = append(entries, routeEntry{path: route, method: info.Method, desc: info.Description, order: info.Order})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	tableData := [][]string{{"ROUTE", "METHOD", "DESCRIPTION"}}
	for _, entry := range entries {
		tableData = append(tableData, []string{entry.path, entry.method, entry.desc})
	}

	if r.logger != nil {
		r.logger.InfoWithCount("registered web routes", len(entries))
	}
	tableString, _ := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	fmt.Print(tableString)
}
