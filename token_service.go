package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenSubject is the identity a token is issued for.
type TokenSubject struct {
	UserID    string
	Email     string
	SessionID string
	Metadata  map[string]any
}

// TokenService issues and validates access tokens.
type TokenService interface {
	Issue(subject TokenSubject) (string, *SessionClaims, error)
	Validate(tokenString string) (*SessionClaims, error)
}

// TokenServiceImpl implements the TokenService interface with HS256 tokens
type TokenServiceImpl struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	validator  *TokenValidator
	logger     Logger
}

// TokenServiceOption customizes a TokenServiceImpl.
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock injects a custom clock used for issuing and validating.
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService from cfg. Token expiration is
// configured in hours and defaults to 24.
func NewTokenService(cfg Config, opts ...TokenServiceOption) *TokenServiceImpl {
	ttl := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		ttl = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	ts := &TokenServiceImpl{
		signingKey: []byte(cfg.GetSigningKey()),
		ttl:        ttl,
		issuer:     cfg.GetIssuer(),
		audience:   cfg.GetAudience(),
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	ts.validator = NewTokenValidator(ts.keyfunc, ts.issuer, ts.audience,
		WithValidatorClock(ts.now),
		WithValidatorLogger(ts.logger),
	)

	return ts
}

// TTL returns the access token lifetime.
func (ts *TokenServiceImpl) TTL() time.Duration {
	return ts.ttl
}

// Issue signs a token for subject.
func (ts *TokenServiceImpl) Issue(subject TokenSubject) (string, *SessionClaims, error) {
	if subject.UserID == "" {
		return "", nil, errors.New("token subject must not be empty", errors.CategoryInternal)
	}

	now := ts.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   subject.UserID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
		Email:        subject.Email,
		Role:         "authenticated",
		SessionID:    subject.SessionID,
		UserMetadata: subject.Metadata,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, claims, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string) (*SessionClaims, error) {
	return ts.validator.Validate(tokenString)
}

func (ts *TokenServiceImpl) keyfunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return ts.signingKey, nil
}

// TokenValidator validates tokens with an arbitrary key lookup, for example
// a JWKS keyfunc of a hosted identity provider.
type TokenValidator struct {
	keyfunc jwt.Keyfunc
	parser  []jwt.ParserOption
	now     func() time.Time
	logger  Logger
}

// TokenValidatorOption customizes a TokenValidator.
type TokenValidatorOption func(*TokenValidator)

// WithValidatorClock injects a custom clock.
func WithValidatorClock(clock func() time.Time) TokenValidatorOption {
	return func(v *TokenValidator) {
		if clock != nil {
			v.now = clock
		}
	}
}

// WithValidatorLogger overrides the logger.
func WithValidatorLogger(logger Logger) TokenValidatorOption {
	return func(v *TokenValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewTokenValidator returns a validator checking issuer and audience when
// they are not empty.
func NewTokenValidator(keyfunc jwt.Keyfunc, issuer string, audience []string, opts ...TokenValidatorOption) *TokenValidator {
	v := &TokenValidator{
		keyfunc: keyfunc,
		now:     time.Now,
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	v.parser = append(v.parser, jwt.WithTimeFunc(v.now))
	if issuer != "" {
		v.parser = append(v.parser, jwt.WithIssuer(issuer))
	}
	if len(audience) > 0 {
		v.parser = append(v.parser, jwt.WithAudience(audience...))
	}

	return v
}

// Validate parses tokenString and returns its claims.
func (v *TokenValidator) Validate(tokenString string) (*SessionClaims, error) {
	if v == nil || v.keyfunc == nil {
		return nil, ErrUnableToDecodeSession
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, v.keyfunc, v.parser...)
	if err != nil {
		// expired tokens still carry their claims so callers can tell
		// which session ran out
		if errors.Is(err, jwt.ErrTokenExpired) {
			if token != nil {
				if claims, ok := token.Claims.(*SessionClaims); ok {
					return claims, ErrTokenExpired
				}
			}
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	v.logger.Error("TokenValidator could not decode or validate claims")
	return nil, ErrUnableToDecodeSession
}
