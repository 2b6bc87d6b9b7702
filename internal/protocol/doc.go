// Package protocol owns the wire contract shared by the client core.
//
// Ownership boundary:
// - endpoint addressing
// - frame encode/decode (frame)
// - method and protocol-graph descriptions (schema)
// - multiplexed session sides and the session table (session)
package protocol
