// Package security inspects the OCTO portal's TLS certificate for the
// diagnostics endpoint: expiry, issuer and a coarse status.
package security
