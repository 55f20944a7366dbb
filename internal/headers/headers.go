// Package headers builds the security response headers attached to every
// API response.
package headers

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/mariia-hub/apiguard/internal/core"
)

// Builder produces the per-response security header set.
type Builder struct {
	cfg core.HeadersConfig
}

func NewBuilder(cfg core.HeadersConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Nonce returns a fresh base64 CSP nonce.
func Nonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawStdEncoding.EncodeToString(buf)
}

// Build returns the header set for one response. When nonce mode is on, a
// non-empty nonce is woven into the script-src directive.
func (b *Builder) Build(nonce string) map[string]string {
	if !b.cfg.Enabled {
		return nil
	}
	h := map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"X-XSS-Protection":           "1; mode=block",
		"Referrer-Policy":            "strict-origin-when-cross-origin",
		"Permissions-Policy":         "geolocation=(), microphone=(), camera=()",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	h["Content-Security-Policy"] = b.csp(nonce)
	if b.cfg.HSTSMaxAge > 0 {
		h["Strict-Transport-Security"] = fmt.Sprintf("max-age=%d; includeSubDomains", b.cfg.HSTSMaxAge)
	}
	return h
}

func (b *Builder) csp(nonce string) string {
	scriptSrc := "'self'"
	if b.cfg.CSPNonce && nonce != "" {
		scriptSrc = fmt.Sprintf("'self' 'nonce-%s'", nonce)
	}
	directives := []string{
		"default-src 'self'",
		"script-src " + scriptSrc,
		"style-src 'self'",
		"img-src 'self' data:",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors 'none'",
	}
	return strings.Join(directives, "; ")
}

// Apply writes the header set onto an http response, minting a nonce when
// nonce mode is on. The nonce used is returned so handlers can embed it.
func (b *Builder) Apply(w http.ResponseWriter) string {
	var nonce string
	if b.cfg.CSPNonce {
		nonce = Nonce()
	}
	for k, v := range b.Build(nonce) {
		w.Header().Set(k, v)
	}
	return nonce
}
