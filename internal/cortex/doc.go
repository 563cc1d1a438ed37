// Package cortex talks to the Cortex-M connector endpoint.
//
// Connector protocol:
//  1. GET  {base}/connector          -> plain-text session id
//  2. WS   {base}/connector/{id}     -> duplex CloudEvents stream
package cortex
