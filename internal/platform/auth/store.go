package auth

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

type Account struct {
	ID           string    `db:"id"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	IsDisabled   bool      `db:"is_disabled"`
	CreatedAt    time.Time `db:"created_at"`
}

// AccountStore: GetByID は見つからなければ (nil, nil)
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id string) (int64, error)
	List(ctx context.Context) ([]Account, error)
	// Update は password_hash / role / is_disabled を書き換える
	Update(ctx context.Context, a *Account) (int64, error)
}

// ---------- MySQL ----------

type SQLStore struct{ db *sqlx.DB }

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*Account, error) {
	const q = `
SELECT id, password_hash, role, is_disabled, created_at
FROM accounts
WHERE id = ?
LIMIT 1
`
	var a Account
	err := s.db.GetContext(ctx, &a, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) Create(ctx context.Context, a *Account) error {
	const q = `
INSERT INTO accounts (id, password_hash, role, is_disabled, created_at)
VALUES (?, ?, ?, 0, NOW(6))
`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.PasswordHash, a.Role)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		// GetByID と INSERT の間に同じIDが作られた
		return ErrAlreadyExists
	}
	return err
}

func (s *SQLStore) Delete(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) Update(ctx context.Context, a *Account) (int64, error) {
	const q = `
UPDATE accounts
SET password_hash = ?, role = ?, is_disabled = ?
WHERE id = ?
`
	res, err := s.db.ExecContext(ctx, q, a.PasswordHash, a.Role, a.IsDisabled, a.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) List(ctx context.Context) ([]Account, error) {
	const q = `SELECT id, password_hash, role, is_disabled, created_at FROM accounts ORDER BY id`
	var out []Account
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------- in-memory ----------

// MemoryStore は storage.driver=memory とテスト用
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *MemoryStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	cp.CreatedAt = time.Now().UTC()
	s.accounts[a.ID] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return 0, nil
	}
	delete(s.accounts, id)
	return 1, nil
}

func (s *MemoryStore) Update(_ context.Context, a *Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok {
		return 0, nil
	}
	cur.PasswordHash = a.PasswordHash
	cur.Role = a.Role
	cur.IsDisabled = a.IsDisabled
	s.accounts[a.ID] = cur
	return 1, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
