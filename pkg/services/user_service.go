package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/google/uuid"
	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/user"
	"golang.org/x/crypto/bcrypt"
)

// Seed credentials created on first boot; the operator rotates them.
const (
	seedAdminEmail    = "admin"
	seedAdminName     = "Administrator"
	seedAdminPassword = "1234"
)

// UserService manages dashboard accounts.
type UserService struct {
	client *ent.Client
}

// NewUserService creates a new UserService.
func NewUserService(client *ent.Client) *UserService {
	if client == nil {
		panic("NewUserService: client must not be nil")
	}
	return &UserService{client: client}
}

// SeedAdmin creates the seeded admin account when the user table is empty.
func (s *UserService) SeedAdmin(ctx context.Context) error {
	count, err := s.client.User.Query().Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seedAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing seed password: %w", err)
	}

	_, err = s.client.User.Create().
		SetID(uuid.New().String()).
		SetEmail(seedAdminEmail).
		SetName(seedAdminName).
		SetPasswordHash(string(hash)).
		SetRole(user.RoleAdmin).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			// Another replica seeded first.
			return nil
		}
		return fmt.Errorf("seeding admin user: %w", err)
	}

	slog.Warn("Seeded default admin account; rotate the password", "email", seedAdminEmail)
	return nil
}

// Authenticate verifies credentials and returns the account.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*ent.User, error) {
	u, err := s.client.User.Query().
		Where(user.EmailEQ(email)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// GetUser loads one account.
func (s *UserService) GetUser(ctx context.Context, id string) (*ent.User, error) {
	u, err := s.client.User.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

// ListUsers returns all accounts, oldest first.
func (s *UserService) ListUsers(ctx context.Context) ([]*ent.User, error) {
	users, err := s.client.User.Query().
		Order(ent.Asc(user.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// CreateUserInput carries the admin's new-account request.
type CreateUserInput struct {
	Email    string
	Name     string
	Password string
	Role     string
}

// CreateUser creates a dashboard account.
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*ent.User, error) {
	if input.Email == "" {
		return nil, NewValidationError("email", "required")
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return nil, NewValidationError("email", "must be a valid email address")
	}
	if input.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if len(input.Password) < 4 {
		return nil, NewValidationError("password", "must be at least 4 characters")
	}
	role := user.Role(input.Role)
	if input.Role == "" {
		role = user.RoleMember
	} else if err := user.RoleValidator(role); err != nil {
		return nil, NewValidationError("role", "must be admin or member")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	created, err := s.client.User.Create().
		SetID(uuid.New().String()).
		SetEmail(input.Email).
		SetName(input.Name).
		SetPasswordHash(string(hash)).
		SetRole(role).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return created, nil
}

// DeleteUser removes an account. The caller cannot delete itself, and the
// last admin cannot be removed.
func (s *UserService) DeleteUser(ctx context.Context, id, callerID string) error {
	if id == callerID {
		return NewValidationError("id", "cannot delete your own account")
	}

	target, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if target.Role == user.RoleAdmin {
		admins, err := s.client.User.Query().
			Where(user.RoleEQ(user.RoleAdmin)).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("counting admins: %w", err)
		}
		if admins <= 1 {
			return NewValidationError("id", "cannot delete the last admin")
		}
	}

	if err := s.client.User.DeleteOneID(id).Exec(ctx); err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}
