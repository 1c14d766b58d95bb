package rules

import (
	"time"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// ProgramCache holds compiled predicates keyed by their source text, so a
// rule set that is validated repeatedly is parsed once.
// Programs are immutable, so a cached program may be shared by concurrent runs.
type ProgramCache interface {
	// Get returns the program compiled from src, or false on a miss or
	// expired entry
	Get(src string) (*expr.Program, bool)

	// Set stores a compiled program
	Set(src string, p *expr.Program)

	// Invalidate drops every entry
	Invalidate()

	// Len returns the number of live entries
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration
	TTL time.Duration

	// MaxEntries bounds the cache size. When full, the oldest entry is
	// evicted. Set to 0 for no bound.
	MaxEntries int
}

// DefaultCacheConfig returns the defaults used by the server and CLI
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        0,
		MaxEntries: 1024,
	}
}
