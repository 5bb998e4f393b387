package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Request is the inbound shape the validator presents against (spec §6):
// method/resource/host/port identify what was signed, and exactly one of
// Authorization or Bewit carries the credentials.
type Request struct {
	Method        string
	Resource      string
	Host          string
	Port          int
	Authorization string
	Bewit         string
}

// certificateSigningString builds the canonical line-separated payload a
// certificate's signature is computed over (spec §4.4.3). name/issuer lines
// appear iff present; the scope list has no leading newline before its
// first entry.
func certificateSigningString(c Certificate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version:%d\n", c.Version)
	if c.Name != "" {
		fmt.Fprintf(&b, "name:%s\n", c.Name)
	}
	if c.Issuer != "" {
		fmt.Fprintf(&b, "issuer:%s\n", c.Issuer)
	}
	fmt.Fprintf(&b, "seed:%s\n", c.Seed)
	fmt.Fprintf(&b, "start:%d\n", c.Start)
	fmt.Fprintf(&b, "expiry:%d\n", c.Expiry)
	b.WriteString("scopes:")
	for _, s := range c.Scopes {
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}

// SignCertificate computes a certificate's signature (spec §4.4.3): HMAC-
// SHA256 keyed by the issuer's accessToken over the canonical signing
// string, standard base64 encoded.
func SignCertificate(c Certificate, issuerAccessToken string) string {
	mac := hmac.New(sha256.New, []byte(issuerAccessToken))
	mac.Write([]byte(certificateSigningString(c)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifyCertificateSignature recomputes and timing-safe compares.
func verifyCertificateSignature(c Certificate, issuerAccessToken string) bool {
	want := SignCertificate(c, issuerAccessToken)
	return hmac.Equal([]byte(want), []byte(c.Signature))
}

// DeriveAccessToken computes the access token used to MAC the actual
// request when a certificate is in play (spec §4.4.3): HMAC-SHA256 keyed by
// the issuer's accessToken over the certificate's seed, base64 URL-safe
// encoded with padding stripped.
func DeriveAccessToken(issuerAccessToken, seed string) string {
	mac := hmac.New(sha256.New, []byte(issuerAccessToken))
	mac.Write([]byte(seed))
	encoded := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	encoded = strings.NewReplacer("+", "-", "/", "_").Replace(encoded)
	return strings.TrimRight(encoded, "=")
}

// decodeExt base64-decodes the ext parameter as carried on the wire. ext is
// transmitted base64 (URL-safe, unpadded) rather than raw JSON so it can sit
// inside a quoted header parameter or bewit segment without escaping.
func decodeExt(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	return base64.RawURLEncoding.DecodeString(raw)
}

// EncodeExt is the inverse of decodeExt, for callers constructing requests.
func EncodeExt(jsonBytes []byte) string {
	return base64.RawURLEncoding.EncodeToString(jsonBytes)
}

// normalizedString builds the payload the request MAC is computed over. The
// exact wire format of the underlying HMAC request-signing primitive is out
// of scope for this spec (§4.4.1); this implementation is self-consistent
// (Sign and Verify agree) which is all the signature round-trip invariant
// (spec §8, invariant 6) requires.
func normalizedString(req Request, ts, nonce, ext string) string {
	return strings.Join([]string{
		"scoperesolve.1.header",
		ts,
		nonce,
		req.Method,
		req.Resource,
		req.Host,
		strconv.Itoa(req.Port),
		ext,
	}, "\n") + "\n"
}

// computeMAC computes a request MAC under key for the given ts/nonce/ext.
func computeMAC(key string, req Request, ts, nonce, ext string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(normalizedString(req, ts, nonce, ext)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// authHeader is the parsed form of a HAWK-style "Authorization: Hawk ..."
// header.
type authHeader struct {
	id    string
	ts    string
	nonce string
	mac   string
	ext   string
}

var errMalformedHeader = errors.New("malformed Authorization header")

// parseAuthHeader parses `Hawk key="value", key="value", ...` pairs. Order
// is not significant; unrecognized keys are ignored for forward
// compatibility.
func parseAuthHeader(header string) (authHeader, error) {
	const prefix = "Hawk "
	if !strings.HasPrefix(header, prefix) {
		return authHeader{}, errMalformedHeader
	}
	fields, err := parseQuotedPairs(strings.TrimPrefix(header, prefix))
	if err != nil {
		return authHeader{}, err
	}
	h := authHeader{
		id:    fields["id"],
		ts:    fields["ts"],
		nonce: fields["nonce"],
		mac:   fields["mac"],
		ext:   fields["ext"],
	}
	if h.id == "" || h.mac == "" {
		return authHeader{}, errMalformedHeader
	}
	return h, nil
}

// parseQuotedPairs parses `key="value", key="value"` into a map.
func parseQuotedPairs(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return nil, errMalformedHeader
		}
		key := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		if len(value) < 2 || value[0] != '"' || value[len(value)-1] != '"' {
			return nil, errMalformedHeader
		}
		out[key] = value[1 : len(value)-1]
	}
	return out, nil
}

// bewitToken is the decoded form of a "?bewit=" query parameter: id, exp,
// mac and ext joined by "\" and base64url encoded (spec §4.4.5).
type bewitToken struct {
	id  string
	exp int64
	mac string
	ext string
}

var errMalformedBewit = errors.New("Bad Request: Invalid bewit structure")

// EncodeBewit builds a bewit token for the given fields.
func EncodeBewit(id string, exp int64, mac, ext string) string {
	raw := strings.Join([]string{id, strconv.FormatInt(exp, 10), mac, ext}, "\\")
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func parseBewit(token string) (bewitToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return bewitToken{}, errMalformedBewit
	}
	parts := strings.Split(string(raw), "\\")
	if len(parts) < 3 || len(parts) > 4 {
		return bewitToken{}, errMalformedBewit
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return bewitToken{}, errMalformedBewit
	}
	b := bewitToken{id: parts[0], exp: exp, mac: parts[2]}
	if len(parts) == 4 {
		b.ext = parts[3]
	}
	if b.id == "" || b.mac == "" {
		return bewitToken{}, errMalformedBewit
	}
	return b, nil
}
