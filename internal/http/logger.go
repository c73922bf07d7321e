package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type logformatter struct {
	logger zerolog.Logger
}

func (l *logformatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	req := map[string]interface{}{}

	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		req["id"] = reqID
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	req["scheme"] = scheme
	req["proto"] = r.Proto
	req["method"] = r.Method
	req["remote"] = r.RemoteAddr
	req["agent"] = r.UserAgent()
	req["uri"] = r.RequestURI

	return &logentry{
		logger: l.logger.With().Fields(map[string]interface{}{"req": req}).Logger(),
	}
}

type logentry struct {
	logger zerolog.Logger
	err    error
}

func (e *logentry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	res := map[string]interface{}{
		"status": status,
		"bytes":  bytes,
		"time":   elapsed.String(),
	}

	event := e.logger.Debug()
	if e.err != nil {
		event = e.logger.Error().Err(e.err)
	} else if status >= 500 {
		event = e.logger.Error()
	}

	event.Fields(map[string]interface{}{"res": res}).Msg("request complete")
}

func (e *logentry) Panic(v interface{}, stack []byte) {
	if err, ok := v.(error); ok {
		e.err = err
	} else {
		e.logger.Error().Interface("panic", v).Bytes("stack", stack).Msg("request panicked")
	}
}
