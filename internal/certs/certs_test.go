package certs

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/revproxy/internal/apperr"
)

func parseLeaf(t *testing.T, b *Bundle) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(b.CertPEM)
	require.NotNil(t, block)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return leaf
}

func TestIssue(t *testing.T) {
	b, err := NewSelfSigned().Issue(Identity{Name: "api", ListenIP: "192.0.2.10"})
	require.NoError(t, err)

	leaf := parseLeaf(t, b)
	assert.Equal(t, "localhost", leaf.Subject.CommonName)
	assert.Equal(t, []string{"localhost"}, leaf.DNSNames)
	assert.Contains(t, leaf.Subject.Organization, "revproxy (api)")

	var ips []string
	for _, ip := range leaf.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.ElementsMatch(t, []string{"127.0.0.1", "::1", "192.0.2.10"}, ips)

	assert.NoError(t, leaf.VerifyHostname("localhost"))
	assert.True(t, b.NotAfter.After(time.Now().Add(300*24*time.Hour)))
	assert.Len(t, b.Certificate.Certificate, 1)
	assert.Len(t, b.Fingerprint, 64)
}

func TestIssueWildcardListenIPNotAdded(t *testing.T) {
	b, err := NewSelfSigned().Issue(Identity{ListenIP: "0.0.0.0"})
	require.NoError(t, err)

	leaf := parseLeaf(t, b)
	for _, ip := range leaf.IPAddresses {
		assert.False(t, ip.Equal(net.IPv4zero))
	}
}

func TestIssueIsFreshEachTime(t *testing.T) {
	s := NewSelfSigned()
	a, err := s.Issue(Identity{ListenIP: "127.0.0.1"})
	require.NoError(t, err)
	b, err := s.Issue(Identity{ListenIP: "127.0.0.1"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.KeyPEM, b.KeyPEM)
}

func TestIssueMalformedIdentity(t *testing.T) {
	_, err := NewSelfSigned().Issue(Identity{ListenIP: "not-an-ip"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Certificate))
}
