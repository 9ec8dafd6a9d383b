// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httpaccess logs one line per served API request, tagged with the
// correlation and operation ids the handlers attach to it.
package httpaccess

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
)

// CorrelationIDHeader carries the correlation id of a submitted request in
// the response.
const CorrelationIDHeader = "Correlation-Id"

// NewHTTPAccessLogHandler logs message at level once a request is served.
// Responses with a server error status are logged at warning level or
// above.
func NewHTTPAccessLogHandler(logger logging.Logger, level logrus.Level, tracer *tracing.Tracer, message string) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rl := &responseLogger{w: w, level: level, fields: make(logrus.Fields)}

			h.ServeHTTP(rl, r.WithContext(context.WithValue(r.Context(), responseLoggerKey{}, rl)))

			if rl.level == 0 {
				return
			}

			status := rl.status
			if status == 0 {
				status = http.StatusOK
			}
			lvl := rl.level
			if status >= http.StatusInternalServerError && lvl > logrus.WarnLevel {
				lvl = logrus.WarnLevel
			}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			fields := rl.fields
			fields["ip"] = ip
			fields["method"] = r.Method
			fields["uri"] = r.RequestURI
			fields["status"] = status
			fields["size"] = rl.size
			fields["duration"] = time.Since(start).Seconds()
			if v := r.UserAgent(); v != "" {
				fields["user-agent"] = v
			}
			if v := r.Header.Get("X-Forwarded-For"); v != "" {
				fields["x-forwarded-for"] = v
			}

			ctx, _ := tracer.WithContextFromHTTPHeaders(r.Context(), r.Header)
			tracing.NewLoggerWithTraceID(ctx, logger).WithFields(fields).Log(lvl, message)
		})
	}
}

// SetAccessLogLevelHandler overrides the level of NewHTTPAccessLogHandler
// for the wrapped endpoint. Level 0 suppresses the log line.
func SetAccessLogLevelHandler(level logrus.Level) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl, ok := r.Context().Value(responseLoggerKey{}).(*responseLogger); ok {
				rl.level = level
			}
			h.ServeHTTP(w, r)
		})
	}
}

// SetCorrelationID sets the correlation id header of the response and tags
// the access log line of r with it.
func SetCorrelationID(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set(CorrelationIDHeader, id)
	addField(r, "correlation-id", id)
}

// SetOperationID tags the access log line of r with an operation id.
func SetOperationID(r *http.Request, id string) {
	addField(r, "operation-id", id)
}

type responseLoggerKey struct{}

// addField is only called from the goroutine serving r.
func addField(r *http.Request, key string, value interface{}) {
	if rl, ok := r.Context().Value(responseLoggerKey{}).(*responseLogger); ok {
		rl.fields[key] = value
	}
}

type responseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
	level  logrus.Level
	fields logrus.Fields
}

func (l *responseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *responseLogger) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required by the websocket upgrader of the event stream.
func (l *responseLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return l.w.(http.Hijacker).Hijack()
}

func (l *responseLogger) Write(b []byte) (int, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}
	size, err := l.w.Write(b)
	l.size += size
	return size, err
}

func (l *responseLogger) WriteHeader(s int) {
	l.w.WriteHeader(s)
	if l.status == 0 {
		l.status = s
	}
}
