// Package signature implements HAWK/bewit request-signature validation with
// temporary-certificate delegation (spec §4.4): given an incoming request
// carrying either inline MAC credentials or a bewit token, it produces
// {status, clientId, scopes} or {status: failed, message}.
package signature

import (
	"encoding/json"
	"fmt"

	"github.com/scopeforge/scoperesolve/internal/scopes"
)

// validateScopes rejects an array containing anything that isn't a valid
// scope string (spec §4.4.4 rule 2: "no newlines, at most one trailing *").
func validateScopes(s []string) error {
	return scopes.ValidateAll(s)
}

// MaxCertificateLifetimeMillis is the default cap on expiry-start (31 days),
// overridable via Validator.MaxLifetime for tests.
const MaxCertificateLifetimeMillis = int64(31 * 24 * 60 * 60 * 1000)

// Certificate is a temporary-credential delegation (spec §4.4.3). Name and
// Issuer are empty together unless named delegation is in use.
type Certificate struct {
	Version   int
	Name      string
	Issuer    string
	Seed      string
	Start     int64
	Expiry    int64
	Scopes    []string
	Signature string
}

// Named reports whether this certificate uses named delegation.
func (c Certificate) Named() bool {
	return c.Name != "" || c.Issuer != ""
}

// Ext is the parsed `ext` extension object carried by a request (spec
// §4.4.2).
type Ext struct {
	Certificate      *Certificate
	AuthorizedScopes []string
}

// Result is the flat validator outcome (spec §4.4, §7): either a success
// with clientId/scopes, or a failure with a stable message string that
// downstream clients branch on verbatim.
type Result struct {
	Status   string
	Scheme   string
	ClientID string
	Scopes   []string
	Message  string
}

const (
	// StatusSuccess mirrors spec §6's "auth-success" exit status.
	StatusSuccess = "success"
	// StatusFailed mirrors spec §6's "auth-failed" exit status.
	StatusFailed = "failed"
)

func failure(message string) Result {
	return Result{Status: StatusFailed, Message: message}
}

// ValidationError carries one of the stable, spec-verbatim failure
// messages. It satisfies error so internal plumbing can use normal Go error
// handling right up to the boundary where it's flattened into a Result.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func errf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// parseExt decodes the raw ext JSON object per spec §4.4.4 rule 1-2: a
// malformed document fails with "Failed to parse ext"; a present but
// mistyped certificate field fails with a field-specific message. The
// certificate is modeled as present/absent up front (design note §9) rather
// than dispatched on after the fact.
func parseExt(raw []byte) (*Ext, *ValidationError) {
	if len(raw) == 0 {
		return &Ext{}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errf("Failed to parse ext")
	}

	ext := &Ext{}

	if certRaw, ok := obj["certificate"]; ok {
		cert, verr := parseCertificate(certRaw)
		if verr != nil {
			return nil, verr
		}
		ext.Certificate = cert
	}

	if scopesRaw, ok := obj["authorizedScopes"]; ok {
		var scopes []string
		if err := json.Unmarshal(scopesRaw, &scopes); err != nil {
			return nil, errf("ext.authorizedScopes must be an array")
		}
		if err := validateScopes(scopes); err != nil {
			return nil, errf("ext.authorizedScopes must be an array")
		}
		ext.AuthorizedScopes = scopes
	}

	return ext, nil
}

// certificateJSON mirrors the wire shape of a certificate before type
// checking; every field is decoded as json.RawMessage so a mistyped field
// (e.g. seed as a number) produces the field-specific message instead of a
// generic unmarshal error.
type certificateJSON struct {
	Version   json.RawMessage `json:"version"`
	Name      json.RawMessage `json:"name"`
	Issuer    json.RawMessage `json:"issuer"`
	Seed      json.RawMessage `json:"seed"`
	Start     json.RawMessage `json:"start"`
	Expiry    json.RawMessage `json:"expiry"`
	Scopes    json.RawMessage `json:"scopes"`
	Signature json.RawMessage `json:"signature"`
}

func parseCertificate(raw json.RawMessage) (*Certificate, *ValidationError) {
	var cj certificateJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, errf("ext.certificate must be an object")
	}

	cert := &Certificate{}

	if err := json.Unmarshal(cj.Version, &cert.Version); err != nil {
		return nil, errf("ext.certificate.version must be an integer")
	}

	if len(cj.Name) > 0 {
		if err := json.Unmarshal(cj.Name, &cert.Name); err != nil {
			return nil, errf("ext.certificate.name must be a string")
		}
	}
	if len(cj.Issuer) > 0 {
		if err := json.Unmarshal(cj.Issuer, &cert.Issuer); err != nil {
			return nil, errf("ext.certificate.issuer must be a string")
		}
	}

	if err := json.Unmarshal(cj.Seed, &cert.Seed); err != nil {
		return nil, errf("ext.certificate.seed must be a string")
	}
	if len(cert.Seed) != 44 {
		return nil, errf("ext.certificate.seed must be exactly 44 characters")
	}

	if err := json.Unmarshal(cj.Start, &cert.Start); err != nil {
		return nil, errf("ext.certificate.start must be an integer")
	}
	if err := json.Unmarshal(cj.Expiry, &cert.Expiry); err != nil {
		return nil, errf("ext.certificate.expiry must be an integer")
	}

	if err := json.Unmarshal(cj.Scopes, &cert.Scopes); err != nil {
		return nil, errf("ext.certificate.scopes must be an array")
	}
	if err := validateScopes(cert.Scopes); err != nil {
		return nil, errf("ext.certificate.scopes must be an array")
	}

	if err := json.Unmarshal(cj.Signature, &cert.Signature); err != nil {
		return nil, errf("ext.certificate.signature must be a string")
	}

	return cert, nil
}
