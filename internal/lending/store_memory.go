package lending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore はプロセス内ストア。開発モードとテストで使う。
//
// mu はマップの読み書きの瞬間だけ保持し、操作全体を直列化する大域ロックにはしない。
// 本ごとの排他は bookLocks が担う。
type MemoryStore struct {
	mu         sync.RWMutex
	books      map[int64]Book
	borrows    map[int64]Borrow
	openByBook map[int64]int64 // book_id -> open な borrow_id
	lastBook   int64
	lastBorrow int64

	bookLocks   *keyedLock
	lockTimeout time.Duration
}

// NewMemoryStore creates an empty store. lockTimeout bounds how long a transaction waits
// for a book held by another one; zero means wait until ctx is done.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		books:       make(map[int64]Book),
		borrows:     make(map[int64]Borrow),
		openByBook:  make(map[int64]int64),
		bookLocks:   newKeyedLock(),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		s:       s,
		books:   make(map[int64]*Book),
		borrows: make(map[int64]*Borrow),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetBook(_ context.Context, id int64) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return nil, NewNotFound("book not found").With("book_id", id)
	}
	return &b, nil
}

func (s *MemoryStore) ListBooks(_ context.Context, f BookFilter) ([]Book, error) {
	s.mu.RLock()
	out := make([]Book, 0, len(s.books))
	for _, b := range s.books {
		if f.AvailableOnly && !b.Available {
			continue
		}
		if !containsFold(b.Title, f.Title) || !containsFold(b.Category, f.Category) {
			continue
		}
		out = append(out, b)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetBorrow(_ context.Context, id int64) (*Borrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.borrows[id]
	if !ok {
		return nil, NewNotFound("borrow not found").With("borrow_id", id)
	}
	return &b, nil
}

func (s *MemoryStore) GetBorrowByULID(_ context.Context, ulid string) (*Borrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.borrows {
		if b.ULID == ulid {
			return &b, nil
		}
	}
	return nil, NewNotFound("borrow not found").With("borrow_ulid", ulid)
}

func (s *MemoryStore) ListBorrows(_ context.Context, f BorrowFilter) ([]Borrow, error) {
	s.mu.RLock()
	out := make([]Borrow, 0)
	for _, b := range s.borrows {
		if f.UserID != "" && b.UserID != f.UserID {
			continue
		}
		if f.BookID != 0 && b.BookID != f.BookID {
			continue
		}
		if f.OpenOnly && !b.IsOpen() {
			continue
		}
		if !f.OverdueAt.IsZero() && !b.IsOverdue(f.OverdueAt) {
			continue
		}
		out = append(out, b)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Tx ----

// memTx は書き込みをステージし、commit で一括反映する。nil の値は削除を表す。
type memTx struct {
	s        *MemoryStore
	books    map[int64]*Book
	borrows  map[int64]*Borrow
	releases []func()
	locked   map[int64]bool
}

func (tx *memTx) release() {
	for i := len(tx.releases) - 1; i >= 0; i-- {
		tx.releases[i]()
	}
	tx.releases = nil
}

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range tx.books {
		if b == nil {
			delete(s.books, id)
			continue
		}
		s.books[id] = *b
	}
	for id, b := range tx.borrows {
		if b == nil {
			if old, ok := s.borrows[id]; ok && s.openByBook[old.BookID] == id {
				delete(s.openByBook, old.BookID)
			}
			delete(s.borrows, id)
			continue
		}
		s.borrows[id] = *b
		if b.IsOpen() {
			s.openByBook[b.BookID] = id
		} else if s.openByBook[b.BookID] == id {
			delete(s.openByBook, b.BookID)
		}
	}
}

func (tx *memTx) book(id int64) (*Book, bool) {
	if b, staged := tx.books[id]; staged {
		if b == nil {
			return nil, false
		}
		cp := *b
		return &cp, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	b, ok := tx.s.books[id]
	if !ok {
		return nil, false
	}
	return &b, true
}

func (tx *memTx) borrow(id int64) (*Borrow, bool) {
	if b, staged := tx.borrows[id]; staged {
		if b == nil {
			return nil, false
		}
		cp := *b
		return &cp, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	b, ok := tx.s.borrows[id]
	if !ok {
		return nil, false
	}
	return &b, true
}

func (tx *memTx) LockBook(ctx context.Context, id int64) (*Book, error) {
	if tx.locked == nil {
		tx.locked = make(map[int64]bool)
	}
	if !tx.locked[id] {
		lctx := ctx
		if tx.s.lockTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(ctx, tx.s.lockTimeout)
			defer cancel()
		}
		release, err := tx.s.bookLocks.acquire(lctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock book %d: %w", id, ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, NewConflict("book is locked by another operation").With("book_id", id)
			}
			return nil, fmt.Errorf("lock book %d: %w", id, err)
		}
		tx.releases = append(tx.releases, release)
		tx.locked[id] = true
	}

	b, ok := tx.book(id)
	if !ok {
		return nil, NewNotFound("book not found").With("book_id", id)
	}
	return b, nil
}

func (tx *memTx) LockBorrow(_ context.Context, id int64) (*Borrow, error) {
	b, ok := tx.borrow(id)
	if !ok {
		return nil, NewNotFound("borrow not found").With("borrow_id", id)
	}
	return b, nil
}

func (tx *memTx) OpenBorrowFor(_ context.Context, bookID int64) (*Borrow, error) {
	for _, b := range tx.borrows {
		if b != nil && b.BookID == bookID && b.IsOpen() {
			cp := *b
			return &cp, nil
		}
	}

	tx.s.mu.RLock()
	id, ok := tx.s.openByBook[bookID]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	b, ok := tx.borrow(id)
	if !ok || !b.IsOpen() {
		return nil, nil
	}
	return b, nil
}

func (tx *memTx) InsertBook(_ context.Context, b *Book) error {
	tx.s.mu.Lock()
	tx.s.lastBook++
	b.ID = tx.s.lastBook
	tx.s.mu.Unlock()

	cp := *b
	tx.books[b.ID] = &cp
	return nil
}

func (tx *memTx) UpdateBook(_ context.Context, b *Book) error {
	if _, ok := tx.book(b.ID); !ok {
		return NewNotFound("book not found").With("book_id", b.ID)
	}
	cp := *b
	tx.books[b.ID] = &cp
	return nil
}

func (tx *memTx) DeleteBook(_ context.Context, id int64) error {
	if _, ok := tx.book(id); !ok {
		return NewNotFound("book not found").With("book_id", id)
	}
	tx.books[id] = nil
	return nil
}

func (tx *memTx) MarkUnavailable(_ context.Context, bookID int64) error {
	b, ok := tx.book(bookID)
	if !ok {
		return NewNotFound("book not found").With("book_id", bookID)
	}
	if !b.Available {
		return NewUnavailable("book is already on loan").With("book_id", bookID)
	}
	b.Available = false
	tx.books[bookID] = b
	return nil
}

func (tx *memTx) MarkAvailable(_ context.Context, bookID int64) error {
	b, ok := tx.book(bookID)
	if !ok {
		return NewNotFound("book not found").With("book_id", bookID)
	}
	b.Available = true
	tx.books[bookID] = b
	return nil
}

func (tx *memTx) InsertBorrow(ctx context.Context, b *Borrow) error {
	open, err := tx.OpenBorrowFor(ctx, b.BookID)
	if err != nil {
		return err
	}
	if open != nil {
		return NewUnavailable("book already has an open borrow").With("book_id", b.BookID)
	}

	tx.s.mu.Lock()
	tx.s.lastBorrow++
	b.ID = tx.s.lastBorrow
	tx.s.mu.Unlock()

	cp := *b
	tx.borrows[b.ID] = &cp
	return nil
}

func (tx *memTx) CloseBorrow(_ context.Context, id int64, returnDate time.Time, penalty decimal.Decimal) error {
	b, ok := tx.borrow(id)
	if !ok {
		return NewNotFound("borrow not found").With("borrow_id", id)
	}
	if !b.IsOpen() {
		return NewAlreadyReturned("borrow already returned").With("borrow_id", id)
	}
	rd := returnDate
	b.ReturnDate = &rd
	b.Penalty = penalty
	tx.borrows[id] = b
	return nil
}

func (tx *memTx) DeleteBorrow(_ context.Context, id int64) error {
	if _, ok := tx.borrow(id); !ok {
		return NewNotFound("borrow not found").With("borrow_id", id)
	}
	tx.borrows[id] = nil
	return nil
}

// ---- keyed lock ----

// keyedLock は book_id ごとのセマフォ。待ち時間は ctx で打ち切れる。
type keyedLock struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[int64]*lockEntry)}
}

func (k *keyedLock) acquire(ctx context.Context, key int64) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.unref(key, e)
			})
		}, nil
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}
}

func (k *keyedLock) unref(key int64, e *lockEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
