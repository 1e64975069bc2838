package gateway

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSMiddleware lets the console, tablets and displays reach the API from
// any origin on the LAN
func CORSMiddleware(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400, // 24 hours
	})
	return c.Handler(next)
}
