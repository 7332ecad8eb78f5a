package guard

import (
	"net/http"

	"github.com/zhouzirui/z-pay/client/internal/navigation"
)

const placeholderPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Loading…</title></head>
<body><p class="loading">Loading…</p></body></html>
`

// Placeholder is the neutral page served while the session hydrates. The
// browser polls it through the Refresh header.
var Placeholder http.Handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Refresh", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(placeholderPage))
})

// Middleware guards a route group. Each request is a fresh mount: the guard
// moves past Mounting immediately, shows placeholder while the store
// hydrates, and turns redirects into 303 responses.
func Middleware(req Requirement, sessions SessionView, placeholder http.Handler, opts ...Option) func(http.Handler) http.Handler {
	if placeholder == nil {
		placeholder = Placeholder
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var target string
			nav := navigation.Func(func(path string, _ navigation.Mode) { target = path })

			g := New(req, sessions, nav, opts...)
			g.Mounted()

			switch d := g.Evaluate(); d.Action {
			case ShowPlaceholder:
				placeholder.ServeHTTP(w, r)
			case Redirect:
				if target == "" {
					target = d.Target
				}
				http.Redirect(w, r, target, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
