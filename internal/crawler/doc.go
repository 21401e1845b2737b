// Package crawler discovers URLs for a site.
//
// The Engine drives a breadth-first or depth-first Frontier, admitting
// URLs through a Filter (scheme, include/exclude patterns, visited set)
// and gating every fetch on a Politeness controller (robots.txt and a
// per-domain rate window). Each fetched URL is emitted to the caller
// before its links are extracted and enqueued one level deeper.
package crawler
