// Package socks5 provides the small SOCKS5 handshake used to tunnel outbound
// proxy connections through a relay.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 to
// keep negotiation, username/password authentication and CONNECT handling in
// one place. The server-side helpers exist for relays embedded in tests and
// tooling; this is not a general SOCKS5 server.
package socks5
