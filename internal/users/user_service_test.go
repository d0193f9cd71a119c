package users

import (
	"context"
	"errors"
	"testing"

	"github.com/hrkit/secgate/internal/security/password"
	"github.com/hrkit/secgate/model"
	"gorm.io/gorm"
)

// fakeUserRepository keeps users in memory for service tests.
type fakeUserRepository struct {
	users  map[uint]*model.User
	nextID uint
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[uint]*model.User), nextID: 1}
}

func (r *fakeUserRepository) Create(ctx context.Context, user *model.User) error {
	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return errors.New("duplicate entry")
		}
	}
	user.ID = r.nextID
	r.nextID++
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepository) FirstByID(ctx context.Context, id uint) (*model.User, error) {
	if u, ok := r.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepository) FirstByUsername(ctx context.Context, username string) (*model.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepository) FirstByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepository) Updates(ctx context.Context, id uint, columns map[string]interface{}) error {
	if _, ok := r.users[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *fakeUserRepository) Save(ctx context.Context, user *model.User) error {
	if _, ok := r.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func newTestUserService() (*UserService, *fakeUserRepository) {
	repo := newFakeUserRepository()
	engine := password.NewEngine(password.Config{
		Argon2: password.Argon2Params{Memory: 1024, Time: 1, Parallelism: 1},
	})
	return NewUserService(repo, engine), repo
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, repo := newTestUserService()

	user, err := svc.CreateUser(context.Background(), CreateUserOptions{
		Username: "alice",
		FullName: "Alice Nguyen",
		Email:    "alice@example.com",
		Password: "Tr0ub4dor&3xQz",
	})
	if err != nil {
		t.Fatal(err)
	}
	stored := repo.users[user.ID]
	if stored.Password == "Tr0ub4dor&3xQz" {
		t.Fatal("password stored in plaintext")
	}
	if len(stored.PasswordHistory) != 1 {
		t.Errorf("history length = %d, want 1", len(stored.PasswordHistory))
	}
}

func TestCreateUserRejectsWeakPassword(t *testing.T) {
	svc, _ := newTestUserService()

	_, err := svc.CreateUser(context.Background(), CreateUserOptions{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "short",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Errorf("err = %v, want ErrWeakPassword", err)
	}
}

func TestCreateUserRejectsPasswordContainingEmail(t *testing.T) {
	svc, _ := newTestUserService()

	_, err := svc.CreateUser(context.Background(), CreateUserOptions{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "carol!A1bcdefg",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Errorf("err = %v, want ErrWeakPassword", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestUserService()
	_, err := svc.CreateUser(context.Background(), CreateUserOptions{
		Username: "alice",
		FullName: "Alice Nguyen",
		Email:    "alice@example.com",
		Password: "Tr0ub4dor&3xQz",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Authenticate(context.Background(), "alice", "Tr0ub4dor&3xQz"); err != nil {
		t.Errorf("by username: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "alice@example.com", "Tr0ub4dor&3xQz"); err != nil {
		t.Errorf("by email: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "nobody", "Tr0ub4dor&3xQz"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v, must be indistinguishable", err)
	}
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	svc, repo := newTestUserService()
	user, err := svc.CreateUser(context.Background(), CreateUserOptions{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Tr0ub4dor&3xQz",
	})
	if err != nil {
		t.Fatal(err)
	}
	repo.users[user.ID].Disabled = true

	if _, err := svc.Authenticate(context.Background(), "alice", "Tr0ub4dor&3xQz"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	svc, repo := newTestUserService()
	user, err := svc.CreateUser(context.Background(), CreateUserOptions{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Tr0ub4dor&3xQz",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.UpdatePassword(context.Background(), user.ID, "wrong", "N3w&Secret!Pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong current password err = %v", err)
	}
	if err := svc.UpdatePassword(context.Background(), user.ID, "Tr0ub4dor&3xQz", "Tr0ub4dor&3xQz"); !errors.Is(err, ErrPasswordReused) {
		t.Errorf("reuse err = %v", err)
	}
	if err := svc.UpdatePassword(context.Background(), user.ID, "Tr0ub4dor&3xQz", "N3w&Secret!Pass"); err != nil {
		t.Fatal(err)
	}

	stored := repo.users[user.ID]
	if len(stored.PasswordHistory) != 2 {
		t.Errorf("history length = %d, want 2", len(stored.PasswordHistory))
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "N3w&Secret!Pass"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "Tr0ub4dor&3xQz"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password still accepted")
	}
}
