// Package dispatcher answers captured DNS queries on a bounded worker pool.
//
// The session's read loop hands every frame to Submit. A worker decodes it,
// answers blocked names locally, forwards everything else upstream and
// writes the reply frame back to the tunnel. A failing query never affects
// its siblings: it is logged, counted and dropped.
//
// The queue is bounded. When it is full Submit rejects the frame with
// ErrQueueFull instead of blocking the read loop; the client retries the
// query like any lost UDP datagram.
package dispatcher
