package headers

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// minSecretLen is the shortest HMAC secret accepted for HS256.
const minSecretLen = 32

// SignatureProvider adds a short-lived HS256 JWT to every proxied request so
// the upstream can verify the request passed through this proxy.
type SignatureProvider struct {
	header   string
	issuer   string
	audience string
	ttl      time.Duration
	secret   []byte
	now      func() time.Time
}

// NewSignatureProvider returns a SignatureProvider writing tokens to header.
func NewSignatureProvider(header, issuer, audience string, secret []byte, ttl time.Duration) (*SignatureProvider, error) {
	if header == "" {
		return nil, errors.New("signature header name is required")
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("signature secret must be at least %d bytes; got %d", minSecretLen, len(secret))
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SignatureProvider{
		header:   header,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		secret:   secret,
		now:      time.Now,
	}, nil
}

func (p *SignatureProvider) RequestHeaders() ([]Header, error) {
	now := p.now()
	b := jwt.NewBuilder().
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(p.ttl))
	if p.issuer != "" {
		b = b.Issuer(p.issuer)
	}
	if p.audience != "" {
		b = b.Audience([]string{p.audience})
	}
	tok, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, p.secret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return []Header{New(p.header, string(signed))}, nil
}

// ResponseHeaders adds nothing; the token is meant for the upstream only.
func (p *SignatureProvider) ResponseHeaders() ([]Header, error) {
	return nil, nil
}
