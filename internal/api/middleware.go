package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDMiddleware tags each request with a short ID for log correlation
// and logs method, path and handling time.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s %s (%s)", id, r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}
