// Package server normalizes and validates HTTP origins for WebSocket upgrades
// to enforce configured access control.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// originPolicy decides which HTTP origins may upgrade to a chat session.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

func newOriginPolicy(origins []string, log *slog.Logger) *originPolicy {
	trimmed := lo.FilterMap(origins, func(o string, _ int) (string, bool) {
		t := strings.TrimSpace(o)
		return t, t != ""
	})

	normalized := lo.FilterMap(trimmed, func(o string, _ int) (string, bool) {
		if o == "*" {
			return "", false
		}
		n, ok := normalizeOrigin(o)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", "origin", o)
		}
		return n, ok
	})

	return &originPolicy{
		allowAll: lo.Contains(trimmed, "*"),
		allowed: lo.SliceToMap(normalized, func(o string) (string, struct{}) {
			return o, struct{}{}
		}),
		log: log,
	}
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p *originPolicy) check(r *http.Request) bool {
	if p.allowAll {
		return true
	}
	if normalized, ok := normalizeOrigin(r.Header.Get("Origin")); ok {
		if _, exists := p.allowed[normalized]; exists {
			return true
		}
	}
	p.log.Warn("blocked upgrade from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}
