// Package server decides which browser origins may open a WebSocket session.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const wildcardOrigin = "*"

// originPolicy decides which browser origins may open a session. Requests
// without an Origin header come from native clients and are always accepted.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *zap.Logger
}

// newOriginPolicy builds a policy from configured origins. Entries that are not
// absolute scheme://host URLs are logged and skipped.
func newOriginPolicy(origins []string, log *zap.Logger) *originPolicy {
	p := &originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}

	for _, entry := range origins {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case entry == wildcardOrigin:
			p.allowAll = true
		default:
			canonical, ok := canonicalOrigin(entry)
			if !ok {
				log.Warn("ignoring invalid origin in configuration", zap.String("origin", entry))
				continue
			}
			p.allowed[canonical] = struct{}{}
		}
	}
	return p
}

// canonicalOrigin lowercases the scheme and host of origin and drops any path.
func canonicalOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func (p *originPolicy) isAllowed(r *http.Request) bool {
	values, present := r.Header["Origin"]
	if !present {
		return true
	}
	if len(values) == 0 {
		return false
	}

	canonical, ok := canonicalOrigin(values[0])
	switch {
	case !ok:
		return false
	case p.allowAll:
		return true
	}
	_, allowed := p.allowed[canonical]
	return allowed
}

// check is the upgrader's CheckOrigin hook.
func (p *originPolicy) check(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}
	p.log.Warn("blocked WebSocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
