// Package protocol owns the connector wire contract.
//
// Ownership boundary:
// - envelope: CloudEvents encode/decode for inbound requests and outbound replies
// - session: pending-request table, send queue, backoff, and transport reliability config
package protocol
