package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// requestLogLevel lets a caller raise or silence logging for one request
// with ?log= or the X-Log-Level header.
func requestLogLevel(r *http.Request, def LogLevel) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return def
}

// RequestLogger logs one line per request with method, path, status,
// duration and request id. At LevelError only 5xx responses are logged.
func RequestLogger(log zerolog.Logger, def LogLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lvl := requestLogLevel(r, def)
			if lvl == LevelOff {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if lvl == LevelError && status < http.StatusInternalServerError {
				return
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev = ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).
				Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			if lvl >= LevelDebug {
				ev = ev.Str("remote", r.RemoteAddr).Int("bytes", ww.BytesWritten())
			}
			ev.Msg("http request")
		})
	}
}
