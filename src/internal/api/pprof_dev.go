//go:build dev

package api

import (
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
)

// registerPprof exposes runtime profiles in development builds.
func registerPprof(r chi.Router) {
	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/trace", pprof.Trace)
		for _, name := range []string{"heap", "goroutine", "block", "mutex", "allocs"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
}
