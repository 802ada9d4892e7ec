// Package tlsbridge wires TLS termination in front of the HTTP/1.1 core.
// The original target spoke TLS through a hand-rolled mbedTLS bio bridge:
// callbacks moved ciphertext between the TCP stack and the TLS library one
// direction, acks moved back the other, and a small FIFO tracked which
// plaintext write a given ciphertext ack belonged to. crypto/tls.Conn already
// performs that bridging transparently over any net.Conn, so this package is
// just config construction (this file) plus a thin listener/handshake-timing
// wrapper (bridge.go) rather than a reimplementation of the bio callbacks.
package tlsbridge

import "crypto/tls"

// Protocol version identifiers, re-exported from crypto/tls for callers that
// only need tlsbridge.
const (
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// VersionProfile is a named [Min, Max] version range for tls.Config.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

// ProfileSecure is the only version floor the accept path offers: TLS 1.2
// through 1.3. The original's weaker SSL 3.0/TLS 1.0/1.1 profiles have no
// caller here, so they aren't carried over; add one back if a deployment
// needs to accept legacy clients.
var ProfileSecure = VersionProfile{
	Min:         VersionTLS12,
	Max:         VersionTLS13,
	Description: "TLS 1.2+",
}

// CipherSuitesTLS12Secure is the suite list ApplyCipherSuites selects at a
// TLS 1.2 floor.
var CipherSuitesTLS12Secure = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// ApplyVersionProfile sets cfg's version range from profile.
func ApplyVersionProfile(cfg *tls.Config, profile VersionProfile) {
	cfg.MinVersion = profile.Min
	cfg.MaxVersion = profile.Max
}

// ApplyCipherSuites picks a cipher suite list appropriate for minVersion.
// TLS 1.3 ignores CipherSuites entirely, so leaving it nil at that floor is
// deliberate, not an omission.
func ApplyCipherSuites(cfg *tls.Config, minVersion uint16) {
	if minVersion >= VersionTLS13 {
		cfg.CipherSuites = nil
		return
	}
	cfg.CipherSuites = CipherSuitesTLS12Secure
}

// ServerConfig loads a certificate/key pair and builds a server-side
// tls.Config restricted to profile's version range and matching cipher
// suites.
func ServerConfig(certFile, keyFile string, profile VersionProfile) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	ApplyVersionProfile(cfg, profile)
	ApplyCipherSuites(cfg, profile.Min)
	return cfg, nil
}
