// Package certprobe fetches the issuer of the certificate a host presents,
// which tells whether TLS to that host is being intercepted by the agent.
package certprobe

import (
	"context"
	"crypto/tls"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/logging"
)

const (
	// DefaultPort is used when the URL carries no explicit port
	DefaultPort = "443"
	// DefaultTimeout bounds connect and handshake together
	DefaultTimeout = 5 * time.Second
)

// Probe performs certificate-only TLS handshakes
type Probe struct {
	Port    string
	Timeout time.Duration
	Log     *logrus.Entry
}

// New creates a Probe with the default port and timeout
func New(log *logrus.Entry) *Probe {
	if log == nil {
		log = logging.Discard()
	}
	return &Probe{
		Port:    DefaultPort,
		Timeout: DefaultTimeout,
		Log:     log,
	}
}

// Issuer returns the issuer distinguished name of the leaf certificate served
// for rawURL as "k=v, k=v". Any failure yields the empty string.
func (p *Probe) Issuer(ctx context.Context, rawURL string) string {
	host, port := splitTarget(rawURL)
	if host == "" {
		return ""
	}
	if port == "" {
		port = p.Port
		if port == "" {
			port = DefaultPort
		}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := p.Log
	if log == nil {
		log = logging.Discard()
	}

	addr := net.JoinHostPort(host, port)
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Debug("Certificate probe connect failed")
		return ""
	}
	defer raw.Close()

	cfg := &tls.Config{
		// Only the presented chain is inspected, nothing is trusted
		InsecureSkipVerify: true,
	}
	if net.ParseIP(host) == nil {
		cfg.ServerName = host
	}

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		log.WithError(err).WithField("addr", addr).Debug("Certificate probe handshake failed")
		return ""
	}

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ""
	}
	return FormatDN(certs[0].Issuer)
}

// Hostname extracts the host part of a URL, tolerating a missing scheme
func Hostname(rawURL string) string {
	host, _ := splitTarget(rawURL)
	return host
}

func splitTarget(rawURL string) (string, string) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", ""
	}
	if !strings.Contains(s, "://") {
		s = "//" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", ""
	}
	return strings.ToLower(u.Hostname()), u.Port()
}

var attrNames = map[string]string{
	"2.5.4.6":                    "C",
	"2.5.4.8":                    "ST",
	"2.5.4.7":                    "L",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"2.5.4.3":                    "CN",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.9":                    "street",
	"2.5.4.17":                   "postalCode",
	"1.2.840.113549.1.9.1":       "emailAddress",
	"0.9.2342.19200300.100.1.25": "DC",
}

// FormatDN renders a name as comma separated key=value pairs in certificate order
func FormatDN(name pkix.Name) string {
	parts := make([]string, 0, len(name.Names))
	for _, atv := range name.Names {
		parts = append(parts, attrName(atv.Type)+"="+attrValue(atv.Value))
	}
	return strings.Join(parts, ", ")
}

func attrName(oid asn1.ObjectIdentifier) string {
	if n, ok := attrNames[oid.String()]; ok {
		return n
	}
	return oid.String()
}

func attrValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
