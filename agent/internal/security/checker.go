package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// dialTimeout bounds the handshake so a slow portal cannot stall a
// diagnostics request.
const dialTimeout = 10 * time.Second

// expiringWithin is the window in which a certificate is reported as
// "expiring".
const expiringWithin = 30 * 24 * time.Hour

// Check dials the TLS endpoint behind rawURL and returns a CertStatus
// describing the leaf certificate.
//
// Returns nil for non-HTTPS URLs; there is no certificate to inspect.
// insecure mirrors the agent's tls.insecure_skip_verify so a portal the
// scraper accepts is inspected the same way.
func Check(ctx context.Context, rawURL string, insecure bool) *types.CertStatus {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &types.CertStatus{Endpoint: u.Scheme + "://" + u.Host}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecure, //nolint:gosec
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = "unreachable"
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = "unreachable"
		return cs
	}

	leaf := peerCerts[0]
	left := time.Until(leaf.NotAfter)

	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	if cs.Issuer == "" && len(leaf.Issuer.Organization) > 0 {
		cs.Issuer = leaf.Issuer.Organization[0]
	}
	cs.DaysLeft = int32(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = "expired"
	case left <= expiringWithin:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}
