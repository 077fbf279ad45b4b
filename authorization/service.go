package authorization

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	jwt "github.com/appleboy/gin-jwt/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken   = errors.New("authorization: email already registered")
	ErrInvalidEmail = errors.New("authorization: invalid email address")
	ErrWeakPassword = errors.New("authorization: password must be at least 8 characters")
)

const minPasswordLength = 8

// AccountStore provides data access helpers backed by GORM.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) FindByID(ctx context.Context, id uint64) (*Account, error) {
	if s == nil {
		return nil, errors.New("authorization: account store not initialized")
	}
	var account Account
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var account Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *AccountStore) Create(ctx context.Context, account *Account) error {
	return s.db.WithContext(ctx).Create(account).Error
}

// AuthService handles credential checks and registration.
type AuthService struct {
	accounts *AccountStore
}

func NewAuthService(accounts *AccountStore) *AuthService {
	return &AuthService{accounts: accounts}
}

// Authenticate validates the given credentials and returns the identity stored in the token.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, jwt.ErrMissingLoginValues
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jwt.ErrFailedAuthentication
		}
		return nil, fmt.Errorf("authorization: authenticate account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, jwt.ErrFailedAuthentication
	}
	return &Identity{ID: account.ID, Email: account.Email}, nil
}

// Register creates a new account with a bcrypt password hash.
func (s *AuthService) Register(ctx context.Context, email, password, displayName string) (*Account, error) {
	email = normalizeEmail(email)
	displayName = strings.TrimSpace(displayName)

	if email == "" || password == "" {
		return nil, jwt.ErrMissingLoginValues
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("authorization: lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("authorization: hash password: %w", err)
	}

	account := &Account{Email: email, DisplayName: displayName, PasswordHash: string(hash)}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("authorization: create account: %w", err)
	}
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
