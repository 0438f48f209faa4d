// Package proxy implements the per-configuration reverse proxy: the
// forwarding engine that rewrites and relays each request to the remote
// origin, and the Instance that owns a bound listener, its optional TLS
// material and the HTTP server serving it.
package proxy
