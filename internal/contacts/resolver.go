// Package contacts holds the process-local display-name cache.
// It is rebuilt from the next contacts snapshot after a restart, so nothing
// here is persisted.
package contacts

import (
	"strings"
	"sync"
)

// Resolver maps contact JIDs to display names.
type Resolver struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{names: make(map[string]string)}
}

// Put records a display name for a JID. Empty names are ignored; a later
// update for the same JID overwrites an earlier one.
func (r *Resolver) Put(jid, name string) {
	if jid == "" || name == "" {
		return
	}
	r.mu.Lock()
	r.names[jid] = name
	r.mu.Unlock()
}

// Merge inserts a batch of JID → name entries.
func (r *Resolver) Merge(entries map[string]string) {
	r.mu.Lock()
	for jid, name := range entries {
		if jid != "" && name != "" {
			r.names[jid] = name
		}
	}
	r.mu.Unlock()
}

// Lookup returns the cached name for a JID, or "" when unknown.
func (r *Resolver) Lookup(jid string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[jid]
}

// Resolve returns a display name for a JID using the fallback chain
// cache → provided → local part of the JID. It never returns "".
func (r *Resolver) Resolve(jid, provided string) string {
	if name := r.Lookup(jid); name != "" {
		return name
	}
	if provided != "" {
		return provided
	}
	if at := strings.IndexByte(jid, '@'); at > 0 {
		return jid[:at]
	}
	return jid
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
