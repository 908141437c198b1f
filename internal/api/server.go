package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/mtlprog/seasonal/internal/asset"
)

// NewServer creates an HTTP server with all routes configured.
// Mutating routes require a Bearer adminAPIKey when it is set.
func NewServer(port string, assets *asset.Service, adminAPIKey string, maxUploadBytes int64) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(assets, adminAPIKey, maxUploadBytes),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter builds the API route table.
func NewRouter(assets *asset.Service, adminAPIKey string, maxUploadBytes int64) http.Handler {
	handler := NewHandler(assets, maxUploadBytes)

	protect := func(h http.HandlerFunc) http.Handler {
		if adminAPIKey == "" {
			return h
		}
		return requireAuth(adminAPIKey, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/assets", handler.ListAssets)
	mux.HandleFunc("GET /api/v1/stats", handler.GetStats)
	mux.HandleFunc("POST /api/v1/process", handler.Process)
	mux.HandleFunc("GET /api/v1/assets/{asset}", handler.GetAsset)
	mux.HandleFunc("GET /api/v1/assets/{asset}/range", handler.GetDateRange)
	mux.HandleFunc("GET /api/v1/assets/{asset}/profile", handler.GetProfile)
	mux.HandleFunc("GET /api/v1/assets/{asset}/export", handler.ExportAsset)

	mux.Handle("DELETE /api/v1/assets/{asset}", protect(handler.DeleteAsset))
	mux.Handle("POST /api/v1/assets/{asset}/upload", protect(handler.Upload))
	mux.Handle("POST /api/v1/assets/{asset}/rows", protect(handler.AddRow))
	mux.Handle("PUT /api/v1/assets/{asset}/rows/{id}", protect(handler.UpdateRow))
	mux.Handle("DELETE /api/v1/assets/{asset}/rows/{id}", protect(handler.DeleteRow))
	mux.Handle("POST /api/v1/reset", protect(handler.Reset))

	return mux
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
