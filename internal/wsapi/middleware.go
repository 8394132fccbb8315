package wsapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// loggingMiddleware logs each request once its handler returns. For
// websocket upgrades that is when the connection closes. w is passed
// through untouched so the upgrade can hijack it.
func loggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("from", r.RemoteAddr).
			Dur("dur", time.Since(start)).
			Msg("request")
	})
}
