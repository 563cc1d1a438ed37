// Package session owns the connector<->Cortex-M session primitives.
//
// Ownership boundary:
// - reconnect backoff policy
// - pending reply table and settle-once reply slots
// - ordered send queue with front re-enqueue for resends
// - client transport security validation
//
// Nothing here performs I/O; the connector package drives these types from
// the link and request handler goroutines.
package session
