package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// maxBodySize caps request bodies (1MB).
const maxBodySize = 1 << 20

const msgInvalidBody = "Invalid request body."

// decodeJSON decodes the request body into v. Writes a 400 and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": msgInvalidBody})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(log waLog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Debugf("%s %s %d %dB %s [%s] from %s",
					r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
					time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()), r.RemoteAddr)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
