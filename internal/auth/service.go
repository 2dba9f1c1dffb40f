package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

const defaultAccessTTL = 15 * time.Minute

// roleClaim is the private claim carrying the user's role.
const roleClaim = "role"

// Roles known to the system.
const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// Service coordinates credential verification and access token issuance.
type Service struct {
	store     Store
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	signer    jwa.SignatureAlgorithm
	validator TokenValidator
	issuer    string
	audience  string
	clockSkew time.Duration
}

// Config configures the auth service.
type Config struct {
	Store          Store
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
}

// User is the safe subset of the user model returned to clients.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LoginResult bundles the token material returned after a successful login.
type LoginResult struct {
	User        User      `json:"user"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Claims is the validated identity extracted from an access token.
type Claims struct {
	UserID string
	Role   string
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-pos"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "pos-dashboard"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &Service{
		store:     cfg.Store,
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
		signer:    jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Login verifies credentials and issues a signed access token. Disabled
// accounts fail the same way as bad credentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" || password == "" {
		return LoginResult{}, invalidCredentials(nil)
	}
	account, err := s.store.GetAccountByEmail(ctx, normalizedEmail)
	if err != nil {
		return LoginResult{}, invalidCredentials(err)
	}
	ok, err := argon2id.ComparePasswordAndHash(password, account.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, invalidCredentials(err)
	}
	if !account.Active {
		return LoginResult{}, invalidCredentials(errors.New("auth: account disabled"))
	}

	token, expiresAt, err := s.signAccessToken(account)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	return LoginResult{
		User:        toUser(account),
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

// Me fetches the authenticated user's profile.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	id, err := parseUserID(userID)
	if err != nil {
		return User{}, unauthorized(err)
	}
	account, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		return User{}, unauthorized(err)
	}
	return toUser(account), nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, unauthorized(errors.New("auth: missing token"))
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Claims{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret))
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Claims{}, unauthorized(err)
	}
	claims := Claims{UserID: parsed.Subject()}
	if raw, ok := parsed.Get(roleClaim); ok {
		if role, ok := raw.(string); ok {
			claims.Role = role
		}
	}
	return claims, nil
}

func (s *Service) signAccessToken(account Account) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	builder := jwt.NewBuilder().
		Subject(account.ID.String()).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(roleClaim, account.Role)
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func parseUserID(raw string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(raw))
}

func toUser(a Account) User {
	return User{
		ID:        a.ID.String(),
		Name:      a.Name,
		Email:     a.Email,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func invalidCredentials(err error) *common.AppError {
	return &common.AppError{Code: "INVALID_CREDENTIALS", Message: "invalid email or password", HTTPStatus: http.StatusUnauthorized, Err: err}
}

func unauthorized(err error) *common.AppError {
	return &common.AppError{Code: "UNAUTHORIZED", Message: "missing or invalid token", HTTPStatus: http.StatusUnauthorized, Err: err}
}
