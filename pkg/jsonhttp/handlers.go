// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonhttp

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// MethodHandler routes a request by its method. HEAD is served by the GET
// handler if no HEAD handler is set. Other methods get a 405 response that
// lists the allowed ones in both the Allow header and the message.
type MethodHandler map[string]http.Handler

func (h MethodHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if handler, ok := h[r.Method]; ok {
		handler.ServeHTTP(w, r)
		return
	}
	if r.Method == http.MethodHead {
		if handler, ok := h[http.MethodGet]; ok {
			handler.ServeHTTP(w, r)
			return
		}
	}

	allowed := h.allowed()
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	MethodNotAllowed(w, fmt.Sprintf("method %s not allowed, use %s", r.Method, strings.Join(allowed, " or ")))
}

func (h MethodHandler) allowed() []string {
	methods := make([]string, 0, len(h)+1)
	for m := range h {
		methods = append(methods, m)
	}
	if _, ok := h[http.MethodGet]; ok {
		if _, ok := h[http.MethodHead]; !ok {
			methods = append(methods, http.MethodHead)
		}
	}
	sort.Strings(methods)
	return methods
}

// NotFoundHandler responds with 404 naming the requested path.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	if r == nil || r.URL == nil {
		NotFound(w, nil)
		return
	}
	NotFound(w, fmt.Sprintf("unknown path %s", r.URL.Path))
}

// NewMaxBodyBytesHandler rejects requests with bodies over limit bytes. A
// request without a declared length is cut at limit while it is read and
// the read error is turned into a response by HandleBodyReadError.
func NewMaxBodyBytesHandler(limit int64) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				RequestEntityTooLarge(w, bodyTooLarge(limit))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			h.ServeHTTP(w, r)
		})
	}
}

func bodyTooLarge(limit int64) string {
	return fmt.Sprintf("request body over %d bytes", limit)
}

// HandleBodyReadError responds with 413 if err comes from a body cut by
// NewMaxBodyBytesHandler and reports whether it responded.
func HandleBodyReadError(err error, w http.ResponseWriter) (responded bool) {
	if err == nil {
		return false
	}
	// the error of http.MaxBytesReader is not exported
	if err.Error() != "http: request body too large" {
		return false
	}
	RequestEntityTooLarge(w, "request body too large")
	return true
}
