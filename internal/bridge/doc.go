// Package bridge assembles the connector process: Cortex-M session client and
// WebSocket transport, the Link and Handler, the Telegram source, and the
// optional admin server.
package bridge
