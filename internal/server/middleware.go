package server

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
)

// observe reports every request to o, labeled by the matched mux pattern.
func observe(o RequestObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		// ServeMux sets the pattern on r before calling the matched handler.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		o.ObserveRequest(r.Method, route, strconv.Itoa(m.Code), m.Duration.Seconds())
	})
}
