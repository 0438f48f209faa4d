package model

import (
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Header is a custom request header injected into every forwarded request.
type Header struct {
	Key   string `json:"key" validate:"required,httptoken"`
	Value string `json:"value"`
}

// Relay is a parsed socks5:// URL. It is derived once when a configuration is
// saved so the forwarding path never re-parses it.
type Relay struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Address returns host:port of the relay.
func (r Relay) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type ProxyConfig struct {
	ID                 string    `json:"id" validate:"required,max=128"`
	Name               string    `json:"name" validate:"required"`
	ListenIP           string    `json:"listen_ip" validate:"required,ip"`
	ListenPort         int       `json:"listen_port" validate:"min=1,max=65535"`
	UseHTTPS           bool      `json:"use_https"`
	RemoteAddress      string    `json:"remote_address" validate:"required,remoteurl"`
	RemoteHost         string    `json:"remote_host"`
	Headers            []Header  `json:"headers" validate:"dive"`
	RewriteHostHeaders bool      `json:"rewrite_host_headers"`
	SOCKS5Proxy        string    `json:"socks5_proxy,omitempty" validate:"omitempty,socks5url"`
	CreatedAt          time.Time `json:"created_at"`

	// Relay is the parsed form of SOCKS5Proxy, nil when no relay is used.
	Relay *Relay `json:"-"`
}

// ListenAddress returns the effective bind address, ip:port.
func (c ProxyConfig) ListenAddress() string {
	return net.JoinHostPort(c.ListenIP, strconv.Itoa(c.ListenPort))
}

// RemoteURL parses RemoteAddress. Validated configurations never fail here.
func (c ProxyConfig) RemoteURL() (*url.URL, error) {
	return url.Parse(c.RemoteAddress)
}

// EffectiveRemoteHost is the Host header value sent upstream when host
// rewriting is on.
func (c ProxyConfig) EffectiveRemoteHost() string {
	if c.RemoteHost != "" {
		return c.RemoteHost
	}
	u, err := c.RemoteURL()
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Clone returns a deep copy, used for the read-only snapshot a running
// instance keeps.
func (c ProxyConfig) Clone() ProxyConfig {
	out := c
	out.Headers = slices.Clone(c.Headers)
	if c.Relay != nil {
		r := *c.Relay
		out.Relay = &r
	}
	return out
}

// SameRuntime reports whether a and b forward traffic identically, ignoring
// cosmetic fields such as Name. A running instance whose snapshot differs
// from the stored record needs a restart to pick up the change.
func SameRuntime(a, b ProxyConfig) bool {
	return a.ListenIP == b.ListenIP &&
		a.ListenPort == b.ListenPort &&
		a.UseHTTPS == b.UseHTTPS &&
		a.RemoteAddress == b.RemoteAddress &&
		a.RemoteHost == b.RemoteHost &&
		a.RewriteHostHeaders == b.RewriteHostHeaders &&
		a.SOCKS5Proxy == b.SOCKS5Proxy &&
		slices.Equal(a.Headers, b.Headers)
}

// NewDefault returns an unsaved configuration with a fresh id and defaults
// suitable for a new entry in the console.
func NewDefault() ProxyConfig {
	return ProxyConfig{
		ID:                 uuid.Must(uuid.NewV4()).String(),
		Name:               "New Proxy",
		ListenIP:           "127.0.0.1",
		ListenPort:         8080,
		RemoteAddress:      "http://example.com",
		RemoteHost:         "example.com",
		Headers:            []Header{},
		RewriteHostHeaders: true,
		CreatedAt:          time.Now().UTC().Truncate(time.Second),
	}
}

func normalize(c *ProxyConfig) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	c.ListenIP = strings.TrimSpace(c.ListenIP)
	c.RemoteAddress = strings.TrimSpace(c.RemoteAddress)
	c.RemoteHost = strings.TrimSpace(c.RemoteHost)
	c.SOCKS5Proxy = strings.TrimSpace(c.SOCKS5Proxy)
	for i := range c.Headers {
		c.Headers[i].Key = strings.TrimSpace(c.Headers[i].Key)
	}
	if c.Headers == nil {
		c.Headers = []Header{}
	}
}
