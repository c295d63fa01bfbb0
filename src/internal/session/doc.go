// Package session owns the lifecycle of the DNS interception tunnel.
//
// A Controller moves through STARTING, RUNNING, WAITING_FOR_NETWORK,
// RECONNECTING, RECONNECTING_ERROR and STOPPING. Each successful start builds
// an immutable Runtime (tunnel handle, resolver snapshot, block list and
// worker pool) that is torn down as a unit: the frame reader is interrupted
// first, then in-flight queries are cancelled, then the tunnel is closed.
// Faults are never fatal; the controller retries until its context ends.
package session
