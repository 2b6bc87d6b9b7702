// Package service is the client core: it races candidate endpoints for one
// connection, multiplexes invocations over it as sessions, routes decoded
// frames to their sessions, and fails every open session when the
// connection goes away.
package service
