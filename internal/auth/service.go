package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Service parses and validates access tokens minted by the identity provider.
// Registration, login and refresh flows live with that provider; this side
// only needs to know who the caller is.
type Service struct {
	Secret    []byte
	Algorithm jwa.SignatureAlgorithm
	Validator TokenValidator
}

// ParseAccessToken verifies the signature and claims of a raw access token
// and returns the subject user identifier.
func (s *Service) ParseAccessToken(raw string) (string, error) {
	if s == nil || len(s.Secret) == 0 {
		return "", errors.New("auth: service not configured")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("auth: empty token")
	}
	alg := s.Algorithm
	if alg == "" {
		alg = jwa.HS256
	}
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(alg, s.Secret), jwt.WithValidate(false))
	if err != nil {
		return "", err
	}
	msg, err := jws.Parse([]byte(raw))
	if err != nil {
		return "", err
	}
	tokenAlg := jwa.SignatureAlgorithm("")
	if sigs := msg.Signatures(); len(sigs) > 0 {
		tokenAlg = sigs[0].ProtectedHeaders().Algorithm()
	}
	if err := s.Validator.Validate(tok, tokenAlg, time.Now()); err != nil {
		return "", err
	}
	subject := strings.TrimSpace(tok.Subject())
	if subject == "" {
		return "", errors.New("auth: token missing subject")
	}
	return subject, nil
}
