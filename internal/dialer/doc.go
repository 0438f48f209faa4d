// Package dialer opens the outbound TCP connections a proxy instance uses to
// reach its remote, either directly or tunnelled through a SOCKS5 relay.
//
// Failures are reported as apperr errors of kind UPSTREAM_CONNECT, or
// TIMEOUT when a dial or relay deadline expired.
package dialer
