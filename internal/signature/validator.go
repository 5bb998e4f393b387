package signature

import (
	"context"
	"crypto/hmac"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/scopeforge/scoperesolve/internal/clients"
	"github.com/scopeforge/scoperesolve/internal/scopes"
)

// Resolver is the subset of *resolver.Resolver the validator needs. Kept as
// an interface so the validator doesn't import internal/resolver directly
// and can be driven by the hot-swappable wrapper in internal/resolvercache.
type Resolver interface {
	Expand(held []string) []string
}

// ResolverSource returns the currently active compiled resolver (spec §5:
// readers in flight continue against their captured resolver across a
// background rebuild-and-swap).
type ResolverSource interface {
	Current() Resolver
}

// staticResolver adapts a fixed Resolver into a ResolverSource, for tests
// and deployments that never hot-reload their role table.
type staticResolver struct{ r Resolver }

func (s staticResolver) Current() Resolver { return s.r }

// StaticResolver wraps r so it can be passed wherever a ResolverSource is
// expected.
func StaticResolver(r Resolver) ResolverSource { return staticResolver{r} }

var metricsOnce sync.Once

var (
	validationsTotal *prometheus.CounterVec
	certLifetimeSecs prometheus.Histogram
)

func registerMetrics() {
	metricsOnce.Do(func() {
		validationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoperesolve",
			Subsystem: "signature",
			Name:      "validations_total",
			Help:      "Request signature validations by outcome.",
		}, []string{"status", "reason"})
		certLifetimeSecs = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scoperesolve",
			Subsystem: "signature",
			Name:      "certificate_lifetime_seconds",
			Help:      "Requested lifetime of validated certificates.",
			Buckets:   prometheus.ExponentialBuckets(60, 4, 10),
		})
		prometheus.MustRegister(validationsTotal, certLifetimeSecs)
	})
}

func observe(status, reason string) {
	if validationsTotal == nil {
		return
	}
	validationsTotal.WithLabelValues(status, reason).Inc()
}

// Validator evaluates incoming requests per spec §4.4. Callers construct one
// per process (it is stateless except for rate limiting) and share it across
// concurrently handled requests.
type Validator struct {
	Loader      clients.Loader
	Resolver    ResolverSource
	Now         func() time.Time
	MaxLifetime int64 // milliseconds; defaults to MaxCertificateLifetimeMillis

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	// RatePerSecond and Burst configure the per-issuer certificate
	// validation rate limit (domain stack: golang.org/x/time/rate). Zero
	// RatePerSecond disables limiting.
	RatePerSecond rate.Limit
	Burst         int
}

// NewValidator constructs a Validator with sane defaults.
func NewValidator(loader clients.Loader, resolver ResolverSource) *Validator {
	registerMetrics()
	return &Validator{
		Loader:      loader,
		Resolver:    resolver,
		Now:         time.Now,
		MaxLifetime: MaxCertificateLifetimeMillis,
		limiters:    map[string]*rate.Limiter{},
	}
}

func (v *Validator) limiterFor(issuer string) *rate.Limiter {
	if v.RatePerSecond == 0 {
		return nil
	}
	v.limiterMu.Lock()
	defer v.limiterMu.Unlock()
	l, ok := v.limiters[issuer]
	if !ok {
		l = rate.NewLimiter(v.RatePerSecond, v.Burst)
		v.limiters[issuer] = l
	}
	return l
}

// Validate implements the authorization validator interface (spec §6):
// given a request, return success with clientId/scopes, or a failure with a
// stable message (spec §7).
func (v *Validator) Validate(ctx context.Context, req Request) Result {
	var id, mac, ts, nonce, extRaw string
	scheme := "mac"

	switch {
	case req.Bewit != "":
		scheme = "bewit"
		b, err := parseBewit(req.Bewit)
		if err != nil {
			return v.fail("", scheme, errMalformedBewit.Error())
		}
		id, mac, extRaw = b.id, b.mac, b.ext
		ts = strconv.FormatInt(b.exp, 10)
		if b.exp < v.now().UnixMilli()/1000 {
			return v.fail(id, scheme, "Bad Request: Invalid bewit structure")
		}
	case req.Authorization != "":
		h, err := parseAuthHeader(req.Authorization)
		if err != nil {
			return v.fail("", scheme, errMalformedHeader.Error())
		}
		id, mac, ts, nonce, extRaw = h.id, h.mac, h.ts, h.nonce, h.ext
	default:
		return v.fail("", scheme, errMalformedHeader.Error())
	}

	extJSON, err := decodeExt(extRaw)
	if err != nil {
		return v.fail(id, scheme, "Failed to parse ext")
	}
	ext, verr := parseExt(extJSON)
	if verr != nil {
		return v.fail(id, scheme, verr.Message)
	}

	var issuer clients.Client
	var macKey string
	clientID := id

	if ext.Certificate != nil {
		cert := *ext.Certificate

		if limiter := v.limiterFor(issuerName(&cert, id)); limiter != nil && !limiter.Allow() {
			return v.fail(id, scheme, "rate limit exceeded")
		}

		if cert.Version != 1 {
			return v.fail(id, scheme, "ext.certificate.version must be 1")
		}

		now := v.now().UnixMilli()
		if cert.Start > now {
			return v.fail(id, scheme, "ext.certificate.start > now")
		}
		if cert.Expiry < now {
			return v.fail(id, scheme, "ext.certificate.expiry < now")
		}
		maxLifetime := v.MaxLifetime
		if maxLifetime == 0 {
			maxLifetime = MaxCertificateLifetimeMillis
		}
		if cert.Expiry-cert.Start > maxLifetime {
			return v.fail(id, scheme, "ext.certificate cannot last longer than 31 days!")
		}

		if cert.Name != "" && cert.Issuer == "" {
			return v.fail(id, scheme, "name must only be used with issuer")
		}
		if cert.Issuer != "" && cert.Name == "" {
			return v.fail(id, scheme, "name must only be used with issuer")
		}
		if cert.Named() {
			if cert.Name == cert.Issuer {
				return v.fail(id, scheme, "ext.certificate.name must differ from ext.certificate.issuer")
			}
			if cert.Name != id {
				return v.fail(id, scheme, "ext.certificate.name must equal the requesting clientId")
			}
		}

		// A named certificate's clientId (cert.Name, already checked equal to
		// id above) is a delegated identity that never has its own client
		// row — only the issuer has to resolve via the loader. An unnamed
		// certificate still belongs to the outer credential's clientId, so
		// it falls back to looking that up instead.
		lookupID := id
		if cert.Named() {
			lookupID = cert.Issuer
		}
		var err error
		issuer, err = v.Loader.Load(ctx, lookupID)
		if err != nil {
			return v.fail(id, scheme, "no such clientId")
		}

		if cert.Named() {
			issuerExpanded := v.Resolver.Current().Expand(issuer.Scopes)
			createScope := "auth:create-client:" + cert.Name
			if !scopes.Satisfies(issuerExpanded, []string{createScope}) {
				return v.fail(id, scheme, "ext.certificate issuer `"+cert.Issuer+"` doesn't have sufficient scopes")
			}
			clientID = cert.Name
		}

		if !verifyCertificateSignature(cert, issuer.AccessToken) {
			return v.fail(id, scheme, "ext.certificate.signature is not valid")
		}

		macKey = DeriveAccessToken(issuer.AccessToken, cert.Seed)

		if certLifetimeSecs != nil {
			certLifetimeSecs.Observe(float64(cert.Expiry-cert.Start) / 1000)
		}
	} else {
		var err error
		issuer, err = v.Loader.Load(ctx, id)
		if err != nil {
			return v.fail(id, scheme, "no such clientId")
		}
		macKey = issuer.AccessToken
	}

	want := computeMAC(macKey, req, ts, nonce, extRaw)
	if !constantTimeEqual(want, mac) {
		return v.fail(clientID, scheme, "mac mismatch")
	}

	effective := v.Resolver.Current().Expand(issuer.Scopes)

	if ext.Certificate != nil {
		if !scopes.Satisfies(effective, ext.Certificate.Scopes) {
			return v.fail(clientID, scheme, "ext.certificate issuer `"+issuerName(ext.Certificate, clientID)+"` doesn't have sufficient scopes")
		}
		effective = scopes.Normalize(ext.Certificate.Scopes)
	}

	if ext.AuthorizedScopes != nil {
		if !scopes.Satisfies(effective, ext.AuthorizedScopes) {
			return v.fail(clientID, scheme, "ext.authorizedScopes oversteps your scopes")
		}
		effective = scopes.Normalize(ext.AuthorizedScopes)
	}

	observe(StatusSuccess, "")
	return Result{
		Status:   StatusSuccess,
		Scheme:   scheme,
		ClientID: clientID,
		Scopes:   effective,
	}
}

func issuerName(cert *Certificate, fallback string) string {
	if cert.Issuer != "" {
		return cert.Issuer
	}
	return fallback
}

func (v *Validator) fail(clientID, scheme, message string) Result {
	log.Debug().Str("client_id", clientID).Str("scheme", scheme).Str("reason", message).Msg("signature validation failed")
	observe(StatusFailed, message)
	return Result{Status: StatusFailed, Scheme: scheme, ClientID: clientID, Message: message}
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// constantTimeEqual delegates to crypto/hmac.Equal, which is constant time
// for equal-length inputs (spec §9: "constant-time comparison... must be
// timing-safe").
func constantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
