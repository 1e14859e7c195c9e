package lending

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store は永続化層の抽象。MySQLStore と MemoryStore が実装する。
//
// 読み取り系はロックを取らない。更新はすべて RunInTx の中で行い、
// fn が nil を返せば COMMIT、エラーなら ROLLBACK（部分的な書き込みは残らない）。
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetBook(ctx context.Context, id int64) (*Book, error)
	ListBooks(ctx context.Context, f BookFilter) ([]Book, error)
	GetBorrow(ctx context.Context, id int64) (*Borrow, error)
	GetBorrowByULID(ctx context.Context, ulid string) (*Borrow, error)
	ListBorrows(ctx context.Context, f BorrowFilter) ([]Borrow, error)
}

// Tx is one all-or-nothing unit of work.
//
// LockBook takes the exclusive scope for a book id and holds it until the transaction ends;
// calls on different books never wait on each other. Borrow rows are only mutated while
// their book is locked, so LockBorrow must be called after LockBook of its book.
type Tx interface {
	LockBook(ctx context.Context, id int64) (*Book, error)
	LockBorrow(ctx context.Context, id int64) (*Borrow, error)
	// OpenBorrowFor returns the open borrow of a book, or nil when there is none.
	OpenBorrowFor(ctx context.Context, bookID int64) (*Borrow, error)

	InsertBook(ctx context.Context, b *Book) error
	UpdateBook(ctx context.Context, b *Book) error
	DeleteBook(ctx context.Context, id int64) error
	// MarkUnavailable flips available true -> false, ErrUnavailable if it was already false.
	MarkUnavailable(ctx context.Context, bookID int64) error
	MarkAvailable(ctx context.Context, bookID int64) error

	InsertBorrow(ctx context.Context, b *Borrow) error
	// CloseBorrow sets return date and penalty on an open borrow, ErrAlreadyReturned otherwise.
	CloseBorrow(ctx context.Context, id int64, returnDate time.Time, penalty decimal.Decimal) error
	DeleteBorrow(ctx context.Context, id int64) error
}
