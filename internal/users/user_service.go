package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hrkit/secgate/internal/security/password"
	"github.com/hrkit/secgate/model"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailRegistered    = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password does not meet the policy")
	ErrPasswordReused     = errors.New("password was used recently")
)

type CreateUserOptions struct {
	Username string
	FullName string
	Email    string
	Password string
}

// UserService manages accounts and their password lifecycle.
type UserService struct {
	userRepo UserRepository
	pwEngine *password.Engine
}

func NewUserService(userRepo UserRepository, pwEngine *password.Engine) *UserService {
	return &UserService{
		userRepo: userRepo,
		pwEngine: pwEngine,
	}
}

func (s *UserService) GetUserByID(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.userRepo.FirstByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if _, err = mail.ParseAddress(identifier); err == nil {
		user, err = s.userRepo.FirstByEmail(ctx, identifier)
	} else {
		user, err = s.userRepo.FirstByUsername(ctx, identifier)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// CreateUser registers an account after enforcing the password policy.
func (s *UserService) CreateUser(ctx context.Context, opts CreateUserOptions) (*model.User, error) {
	info := &password.UserInfo{Email: opts.Email}
	if parts := strings.Fields(opts.FullName); len(parts) > 0 {
		info.FirstName = parts[0]
		info.LastName = parts[len(parts)-1]
	}
	if result := s.pwEngine.ValidateComplexity(opts.Password, info, nil); !result.IsValid {
		return nil, ErrWeakPassword
	}

	hash, err := s.pwEngine.Hash(opts.Password)
	if err != nil {
		return nil, err
	}

	user := model.User{
		Username:          opts.Username,
		FullName:          opts.FullName,
		Email:             opts.Email,
		Password:          hash,
		PasswordHistory:   []string{hash},
		PasswordChangedAt: time.Now(),
	}
	var mysqlErr *mysql.MySQLError
	if err := s.userRepo.Create(ctx, &user); errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		if strings.Contains(mysqlErr.Message, "username") {
			return nil, ErrUsernameTaken
		}
		return nil, ErrEmailRegistered
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate verifies credentials, resolving to ErrInvalidCredentials on
// any mismatch so callers cannot distinguish unknown users from bad passwords.
func (s *UserService) Authenticate(ctx context.Context, identifier, passwd string) (*model.User, error) {
	user, err := s.GetUserByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Disabled || !s.pwEngine.Verify(user.Password, passwd) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// IsPasswordExpired reports whether the user must rotate their password.
func (s *UserService) IsPasswordExpired(user *model.User) bool {
	return s.pwEngine.IsExpired(user.PasswordChangedAt, nil)
}

// UpdatePassword rotates the user's password, enforcing complexity and
// history rules, and records the new hash in the history.
func (s *UserService) UpdatePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.pwEngine.Verify(user.Password, currentPassword) {
		return ErrInvalidCredentials
	}

	info := &password.UserInfo{Email: user.Email}
	if parts := strings.Fields(user.FullName); len(parts) > 0 {
		info.FirstName = parts[0]
		info.LastName = parts[len(parts)-1]
	}
	if result := s.pwEngine.ValidateComplexity(newPassword, info, nil); !result.IsValid {
		return ErrWeakPassword
	}
	if s.pwEngine.IsInHistory(newPassword, user.PasswordHistory) {
		return ErrPasswordReused
	}

	hash, err := s.pwEngine.Hash(newPassword)
	if err != nil {
		return err
	}
	user.Password = hash
	user.PasswordHistory = s.pwEngine.PushHistory(hash, user.PasswordHistory)
	user.PasswordChangedAt = time.Now()
	return s.userRepo.Save(ctx, user)
}
