// Package certs issues throwaway self-signed TLS credentials for proxy
// listeners that terminate HTTPS.
//
// Nothing is cached or written to disk: every Issue call generates a new key
// and certificate, and the bundle lives exactly as long as the instance that
// requested it.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/die-net/revproxy/internal/apperr"
)

const validity = 365 * 24 * time.Hour

// Identity names the listener a certificate is issued for.
type Identity struct {
	Name     string
	ListenIP string
}

// Bundle is the credential material for one instance start.
type Bundle struct {
	Certificate tls.Certificate
	CertPEM     []byte
	KeyPEM      []byte
	Fingerprint string // hex SHA-256 of the DER certificate
	NotAfter    time.Time
}

// Issuer produces a Bundle for an Identity.
type Issuer interface {
	Issue(id Identity) (*Bundle, error)
}

// SelfSigned issues ECDSA P-256 self-signed certificates valid for
// localhost, the loopback addresses, and the listener's own IP.
type SelfSigned struct {
	Organization string
	now          func() time.Time
}

func NewSelfSigned() *SelfSigned {
	return &SelfSigned{Organization: "revproxy", now: time.Now}
}

// Issue generates a fresh key pair and certificate.
func (s *SelfSigned) Issue(id Identity) (*Bundle, error) {
	ips := []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	if id.ListenIP != "" {
		ip := net.ParseIP(id.ListenIP)
		if ip == nil {
			return nil, apperr.Newf(apperr.KindCertificate, "invalid listen ip %q", id.ListenIP)
		}
		if !ip.IsUnspecified() && !ip.IsLoopback() {
			ips = append(ips, ip)
		}
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, apperr.New(apperr.KindCertificate, "generate key", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, apperr.New(apperr.KindCertificate, "generate serial", err)
	}

	now := s.now()
	org := s.Organization
	if name := strings.TrimSpace(id.Name); name != "" {
		org = org + " (" + name + ")"
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{org},
			CommonName:   "localhost",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           ips,
		DNSNames:              []string{"localhost"},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, apperr.New(apperr.KindCertificate, "create certificate", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, apperr.New(apperr.KindCertificate, "marshal key", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, apperr.New(apperr.KindCertificate, "load key pair", err)
	}

	sum := sha256.Sum256(derBytes)
	return &Bundle{
		Certificate: cert,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
		Fingerprint: hex.EncodeToString(sum[:]),
		NotAfter:    template.NotAfter,
	}, nil
}

// TLSConfig returns a server config presenting b.
func (b *Bundle) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{b.Certificate},
	}
}
