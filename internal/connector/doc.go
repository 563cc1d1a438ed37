// Package connector bridges chat requests to one long-lived Cortex-M session.
//
// Ownership boundary:
// - Link: connect/reconnect with backoff, drain the send queue onto the wire,
//   read frames and resolve pending replies, resend unanswered work after a drop
// - Handler: register, enqueue, and wait (bounded) for one conversation reply
// - AdminServer: health, status, and metrics endpoints
//
// Exactly one Link drains the shared SendQueue at a time. Request timeouts only
// abandon the caller's wait; in-flight transport work is never cancelled by them.
package connector
