package host

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidPattern is returned when a profile pattern is not a domain pattern.
var ErrInvalidPattern = errors.New("invalid host pattern")

// ErrDuplicatePattern is returned when two profiles use the same pattern.
var ErrDuplicatePattern = errors.New("duplicate host pattern")

// Registry maps hostnames to profiles. It is read-only after NewRegistry
// returns and safe for concurrent use.
type Registry struct {
	defaults Profile
	exact    map[string]Profile
	// suffix holds domain and wildcard profiles, longest pattern first.
	suffix []Profile
}

// NewRegistry builds a registry from the default profile and a list of host
// profiles. Zero fields of each profile are filled from defaults, and zero
// fields of defaults from DefaultProfile.
func NewRegistry(defaults Profile, profiles ...Profile) (*Registry, error) {
	defaults = defaults.withDefaults(DefaultProfile())
	defaults.Pattern = ""

	r := &Registry{
		defaults: defaults,
		exact:    make(map[string]Profile, len(profiles)),
	}

	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		pattern := NormalizeHost(p.Pattern)
		if pattern == "" || strings.ContainsAny(pattern, "/?# ") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p.Pattern)
		}
		if _, dup := seen[pattern]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePattern, p.Pattern)
		}
		seen[pattern] = struct{}{}

		p = p.withDefaults(defaults)
		p.Pattern = pattern
		if strings.HasPrefix(pattern, "*.") {
			r.suffix = append(r.suffix, p)
			continue
		}
		r.exact[pattern] = p
		r.suffix = append(r.suffix, p)
	}

	slices.SortStableFunc(r.suffix, func(a, b Profile) int {
		return len(b.Pattern) - len(a.Pattern)
	})
	return r, nil
}

// Match returns the profile for host. An exact hostname match wins, then
// the longest domain or wildcard pattern the host falls under, then the
// default profile.
func (r *Registry) Match(host string) Profile {
	h := NormalizeHost(host)
	if p, ok := r.exact[h]; ok {
		return p
	}
	for _, p := range r.suffix {
		if matchPattern(p.Pattern, h) {
			return p
		}
	}
	return r.defaults
}

// Defaults returns the default profile.
func (r *Registry) Defaults() Profile {
	return r.defaults
}

// Profiles returns all registered host profiles, longest pattern first.
func (r *Registry) Profiles() []Profile {
	return slices.Clone(r.suffix)
}

// BudgetKey returns the key under which host's rate and concurrency
// budgets are tracked. Hosts matched by a shared profile use one key.
func (r *Registry) BudgetKey(host string) string {
	p := r.Match(host)
	if p.Shared && p.Pattern != "" {
		return "profile:" + p.Pattern
	}
	return NormalizeHost(host)
}

func matchPattern(pattern, host string) bool {
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+rest)
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// NormalizeHost lower-cases host and strips a port, a trailing dot and a
// leading "www." label.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	switch {
	case strings.HasPrefix(h, "["):
		if i := strings.IndexByte(h, ']'); i > 0 {
			h = h[1:i]
		}
	case strings.Count(h, ":") == 1:
		h = h[:strings.IndexByte(h, ':')]
	}
	h = strings.TrimSuffix(h, ".")
	h = strings.TrimPrefix(h, "www.")
	return h
}
