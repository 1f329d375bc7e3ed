package stools

import (
	"net/http"
)

// AdaptHandler wraps h with middlewares. The first middleware is the
// outermost, so it sees the request first.
func AdaptHandler(h http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Chain joins middleware groups, e.g. a shared base with a route specific tail.
func Chain(groups ...[]func(http.HandlerFunc) http.HandlerFunc) []func(http.HandlerFunc) http.HandlerFunc {
	var out []func(http.HandlerFunc) http.HandlerFunc
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
