// Package model defines the persisted proxy configuration record and its
// validation rules.
//
// A ProxyConfig describes one listen -> remote forwarding rule. Whether a
// configuration is running is never part of the record; callers ask the
// registry.
package model
