// Package connectivity watches the host network and tells the session when
// it should tear the tunnel down (no default route) or rebuild it (the
// default routes changed, which usually means new resolvers).
package connectivity
