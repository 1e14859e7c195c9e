package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"LIB-backend/internal/access"
)

var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("authentication failed")
	ErrInvalidInput       = errors.New("invalid input")
)

const defaultTokenTTL = 24 * time.Hour

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store AccountStore, secret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{store: store, secret: secret, ttl: ttl, now: time.Now}
}

type AuthService interface {
	Login(ctx context.Context, id, password string) (string, error)
	Register(ctx context.Context, id, password string, role access.Role) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Account, error)
	Get(ctx context.Context, id string) (*Account, error)
	Update(ctx context.Context, id string, upd AccountUpdate) (*Account, error)
}

// AccountUpdate: nil のフィールドは変更しない
type AccountUpdate struct {
	Role     *access.Role
	Password *string
	Disabled *bool
}

func (s *Service) Secret() []byte { return s.secret }

// Login はパスワードを照合して HS256 のトークン（sub / role / exp）を返す
func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil || acct.IsDisabled {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	role, err := access.ParseRole(acct.Role)
	if err != nil {
		return "", fmt.Errorf("account %s: %w", acct.ID, err)
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  acct.ID,
		"role": role.String(),
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *Service) Register(ctx context.Context, id, password string, role access.Role) error {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 || len(password) < 8 || len(password) > 72 {
		return ErrInvalidInput
	}
	if role == access.RoleUnknown {
		return ErrInvalidInput
	}

	exists, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.Create(ctx, &Account{
		ID:           id,
		PasswordHash: string(hash),
		Role:         role.String(),
	})
}

// Delete はアカウントのみ削除する。貸出履歴の user_id はそのまま残る。
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrNotFound
	}
	return acct, nil
}

// Update は ADMIN によるロール変更・パスワード再設定・無効化。
// 発行済みトークンは exp まで有効なので、無効化が効くのは次回ログインから。
func (s *Service) Update(ctx context.Context, id string, upd AccountUpdate) (*Account, error) {
	if upd.Role == nil && upd.Password == nil && upd.Disabled == nil {
		return nil, ErrInvalidInput
	}
	if upd.Role != nil && *upd.Role == access.RoleUnknown {
		return nil, ErrInvalidInput
	}
	if upd.Password != nil && (len(*upd.Password) < 8 || len(*upd.Password) > 72) {
		return nil, ErrInvalidInput
	}

	acct, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Role != nil {
		acct.Role = upd.Role.String()
	}
	if upd.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*upd.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		acct.PasswordHash = string(hash)
	}
	if upd.Disabled != nil {
		acct.IsDisabled = *upd.Disabled
	}

	n, err := s.store.Update(ctx, acct)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// 値が同じだと MySQL は 0 を返すので、消えたかどうかは読み直して判断する
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	log.Printf("[INFO] account updated: id=%s role=%s disabled=%t", acct.ID, acct.Role, acct.IsDisabled)
	return acct, nil
}

// EnsureAdmin は初回起動用。id のアカウントが無ければ ADMIN で作る。
func (s *Service) EnsureAdmin(ctx context.Context, id, password string) error {
	if id == "" {
		return nil
	}
	err := s.Register(ctx, id, password, access.RoleAdmin)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Printf("[INFO] bootstrap admin account created: %s", id)
	return nil
}
