// Package session owns the multiplexed session sides of the client core.
//
// Ownership boundary:
// - transport/session configuration and client TLS validation
// - receive side (Rx) and send side (Tx) driven by schema protocol graphs
// - the session table routing decoded frames by session id
// - asynchronous failures delivered to open sessions
package session
