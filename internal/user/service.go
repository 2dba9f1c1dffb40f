package user

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ihirwe-dev/backend-pos/internal/auth"
	"github.com/ihirwe-dev/backend-pos/internal/common"
)

const pgUniqueViolationCode = "23505"

// Input captures payload for creating or updating a user account.
type Input struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"omitempty,min=8,max=128"`
	Role     string `json:"role" validate:"required,oneof=admin cashier"`
	Active   *bool  `json:"active"`
}

// PasswordInput captures an admin-driven password reset.
type PasswordInput struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Payload is the API representation of a user account.
type Payload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Service orchestrates user account administration.
type Service struct {
	store    Store
	validate *validator.Validate
}

// ServiceConfig configures the Service dependencies.
type ServiceConfig struct {
	Store    Store
	Validate *validator.Validate
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("user: store is required")
	}
	v := cfg.Validate
	if v == nil {
		v = validator.New()
	}
	return &Service{store: cfg.Store, validate: v}, nil
}

// Create registers a new account. A password is required at creation time.
func (s *Service) Create(ctx context.Context, in Input) (Payload, error) {
	normalize(&in)
	if err := s.validate.Struct(in); err != nil {
		return Payload{}, validationError(err)
	}
	if in.Password == "" {
		return Payload{}, &common.AppError{Code: "VALIDATION", Message: "password is required", HTTPStatus: http.StatusUnprocessableEntity, Details: map[string]any{"password": "required"}}
	}
	hash, err := argon2id.CreateHash(in.Password, argon2id.DefaultParams)
	if err != nil {
		return Payload{}, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	rec, err := s.store.Insert(ctx, Record{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Active:       active,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Payload{}, emailTaken(in.Email)
		}
		return Payload{}, err
	}
	return toPayload(rec), nil
}

// Update changes name, email, role, and active flag. Passwords change only
// through ResetPassword.
func (s *Service) Update(ctx context.Context, id string, in Input) (Payload, error) {
	uid, err := parseID(id)
	if err != nil {
		return Payload{}, notFound()
	}
	normalize(&in)
	if err := s.validate.Struct(in); err != nil {
		return Payload{}, validationError(err)
	}
	current, err := s.store.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payload{}, notFound()
		}
		return Payload{}, err
	}
	active := current.Active
	if in.Active != nil {
		active = *in.Active
	}
	rec, err := s.store.Update(ctx, Record{
		ID:     uid,
		Name:   in.Name,
		Email:  in.Email,
		Role:   in.Role,
		Active: active,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Payload{}, emailTaken(in.Email)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return Payload{}, notFound()
		}
		return Payload{}, err
	}
	return toPayload(rec), nil
}

// ResetPassword replaces an account's password hash.
func (s *Service) ResetPassword(ctx context.Context, id string, in PasswordInput) error {
	uid, err := parseID(id)
	if err != nil {
		return notFound()
	}
	if err := s.validate.Struct(in); err != nil {
		return validationError(err)
	}
	hash, err := argon2id.CreateHash(in.Password, argon2id.DefaultParams)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, uid, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound()
		}
		return err
	}
	return nil
}

// Delete removes an account. The acting admin cannot delete themselves.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	uid, err := parseID(id)
	if err != nil {
		return notFound()
	}
	if actorID != "" && actorID == uid.String() {
		return &common.AppError{Code: "SELF_DELETE", Message: "cannot delete your own account", HTTPStatus: http.StatusConflict}
	}
	if err := s.store.Delete(ctx, uid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound()
		}
		return err
	}
	return nil
}

// Get fetches a single account.
func (s *Service) Get(ctx context.Context, id string) (Payload, error) {
	uid, err := parseID(id)
	if err != nil {
		return Payload{}, notFound()
	}
	rec, err := s.store.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payload{}, notFound()
		}
		return Payload{}, err
	}
	return toPayload(rec), nil
}

// List returns accounts filtered by role and active flag.
func (s *Service) List(ctx context.Context, f Filter) ([]Payload, int64, error) {
	if f.Role != "" && f.Role != auth.RoleAdmin && f.Role != auth.RoleCashier {
		return nil, 0, &common.AppError{Code: "BAD_REQUEST", Message: "unknown role filter", HTTPStatus: http.StatusBadRequest}
	}
	records, err := s.store.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Payload, 0, len(records))
	for _, rec := range records {
		out = append(out, toPayload(rec))
	}
	return out, total, nil
}

func normalize(in *Input) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Role = strings.TrimSpace(in.Role)
}

func parseID(raw string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(raw))
}

func toPayload(rec Record) Payload {
	return Payload{
		ID:        rec.ID.String(),
		Name:      rec.Name,
		Email:     rec.Email,
		Role:      rec.Role,
		Active:    rec.Active,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode
}

func emailTaken(email string) *common.AppError {
	return &common.AppError{Code: "EMAIL_TAKEN", Message: "a user with this email already exists", HTTPStatus: http.StatusConflict, Details: map[string]any{"email": email}}
}

func notFound() *common.AppError {
	return &common.AppError{Code: "NOT_FOUND", Message: "user not found", HTTPStatus: http.StatusNotFound}
}

func validationError(err error) *common.AppError {
	details := map[string]any{}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		for _, fe := range fieldErrors {
			details[fe.Field()] = fe.Tag()
		}
	}
	return &common.AppError{Code: "VALIDATION", Message: "invalid user payload", HTTPStatus: http.StatusUnprocessableEntity, Err: err, Details: details}
}
