// Package router maps URL prefixes to routes with longest-prefix-match
// lookup over raw URL bytes.
package router

import (
	"fmt"

	"github.com/NiceMatters/lwan/pkg/request"
)

type node struct {
	children map[byte]*node
	route    *request.Route
}

// Trie is a byte-keyed prefix tree of routes. It is built once at
// startup and read-only afterwards, so lookups need no locking.
type Trie struct {
	root node
}

func New() *Trie {
	return &Trie{}
}

// Add registers a route under its prefix. Registering the same prefix
// twice is a configuration error.
func (t *Trie) Add(r *request.Route) error {
	if r.Prefix == "" || r.Prefix[0] != '/' {
		return fmt.Errorf("route prefix must start with /: %q", r.Prefix)
	}
	if r.Handler == nil {
		return fmt.Errorf("route %q has no handler", r.Prefix)
	}
	n := &t.root
	for i := 0; i < len(r.Prefix); i++ {
		c := r.Prefix[i]
		if n.children == nil {
			n.children = make(map[byte]*node)
		}
		next := n.children[c]
		if next == nil {
			next = &node{}
			n.children[c] = next
		}
		n = next
	}
	if n.route != nil {
		return fmt.Errorf("duplicate route prefix %q", r.Prefix)
	}
	n.route = r
	return nil
}

// MustAdd is Add for static route tables assembled at startup.
func (t *Trie) MustAdd(r *request.Route) {
	if err := t.Add(r); err != nil {
		panic(err)
	}
}

// LookupPrefix returns the route with the longest prefix of url, or nil.
func (t *Trie) LookupPrefix(url []byte) *request.Route {
	n := &t.root
	best := n.route
	for i := 0; i < len(url); i++ {
		next := n.children[url[i]]
		if next == nil {
			break
		}
		n = next
		if n.route != nil {
			best = n.route
		}
	}
	return best
}
