// Package session resolves the bearer token forwarded to the backend on
// behalf of a signed-in user.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// DefaultTokenTTL is the lifetime of minted backend tokens.
const DefaultTokenTTL = 60 * time.Second

var (
	ErrNoToken   = errors.New("no session token")
	ErrNoSubject = errors.New("session token has no subject")
)

type Provider struct {
	session *jwtauth.JWTAuth
	backend *jwtauth.JWTAuth // nil forwards the session token unchanged
	ttl     time.Duration
	now     func() time.Time
}

// NewProvider verifies session tokens signed with sessionSecret. When
// backendSecret is set, a fresh short lived token signed with it is minted
// for every backend call instead of forwarding the session token.
func NewProvider(sessionSecret, backendSecret string) *Provider {
	p := &Provider{
		session: jwtauth.New("HS256", []byte(sessionSecret), nil),
		ttl:     DefaultTokenTTL,
		now:     time.Now,
	}
	if backendSecret != "" {
		p.backend = jwtauth.New("HS256", []byte(backendSecret), nil)
	}
	return p
}

// Verifier puts the verified session token into the request context.
func (p *Provider) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verifier(p.session)
}

// Token returns the bearer to forward for r. A missing or invalid session
// is not an error for the caller: the request simply goes out unauthenticated.
func (p *Provider) Token(r *http.Request) (string, bool) {
	sub, raw, err := p.Subject(r)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			log.WithField("path", r.URL.Path).Debugf("session token rejected: %s", err)
		}
		return "", false
	}
	if p.backend == nil {
		return raw, true
	}

	tok, err := p.Mint(sub)
	if err != nil {
		log.Errorf("unable to mint backend token for %s: %s", sub, err)
		return "", false
	}
	return tok.AccessToken, true
}

// Subject verifies the session token carried by r (Authorization header
// first, then the jwt cookie) and returns its subject and raw form.
func (p *Provider) Subject(r *http.Request) (string, string, error) {
	raw := jwtauth.TokenFromHeader(r)
	if raw == "" {
		raw = jwtauth.TokenFromCookie(r)
	}
	if raw == "" {
		return "", "", ErrNoToken
	}

	tok, err := jwtauth.VerifyToken(p.session, raw)
	if err != nil {
		return "", "", fmt.Errorf("verify session token: %w", err)
	}
	if tok.Subject() == "" {
		return "", "", ErrNoSubject
	}
	return tok.Subject(), raw, nil
}

// Mint signs a backend token for sub.
func (p *Provider) Mint(sub string) (*oauth2.Token, error) {
	if p.backend == nil {
		return nil, errors.New("no backend signing key configured")
	}
	now := p.now()
	expiry := now.Add(p.ttl)

	_, s, err := p.backend.Encode(map[string]interface{}{
		"sub": sub,
		"iat": now.Unix(),
		"exp": expiry.Unix(),
	})
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: s, TokenType: "Bearer", Expiry: expiry}, nil
}

// TokenSource returns a source of bearer tokens for long running work done
// on behalf of sub, such as a live sync stream. raw is the session token the
// work was started with.
func (p *Provider) TokenSource(sub, raw string) oauth2.TokenSource {
	if p.backend == nil {
		t := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
		if tok, err := p.session.Decode(raw); err == nil {
			t.Expiry = tok.Expiration()
		}
		return oauth2.StaticTokenSource(t)
	}
	return oauth2.ReuseTokenSource(nil, &mintSource{p: p, sub: sub})
}

type mintSource struct {
	p   *Provider
	sub string
}

func (m *mintSource) Token() (*oauth2.Token, error) {
	return m.p.Mint(m.sub)
}
