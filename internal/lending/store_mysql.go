package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/doug-martin/goqu/v9/exp"
	mysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"LIB-backend/internal/platform/db"
)

const (
	dialectMySQL = "mysql"

	tblBooks   = "books"
	tblBorrows = "borrows"

	// MySQL エラー番号
	errDupEntry         = 1062
	errLockWaitTimeout  = 1205
	errDeadlockDetected = 1213
)

var (
	bookCols   = []any{"id", "title", "author", "category", "rent_per_day", "available"}
	borrowCols = []any{"id", "borrow_ulid", "book_id", "user_id", "borrow_date", "due_date", "return_date", "penalty"}
)

type bookRow struct {
	ID         int64           `db:"id"`
	Title      string          `db:"title"`
	Author     string          `db:"author"`
	Category   string          `db:"category"`
	RentPerDay decimal.Decimal `db:"rent_per_day"`
	Available  bool            `db:"available"`
}

func (r bookRow) toBook() *Book {
	return &Book{
		ID:         r.ID,
		Title:      r.Title,
		Author:     r.Author,
		Category:   r.Category,
		RentPerDay: r.RentPerDay,
		Available:  r.Available,
	}
}

type borrowRow struct {
	ID         int64           `db:"id"`
	ULID       string          `db:"borrow_ulid"`
	BookID     int64           `db:"book_id"`
	UserID     string          `db:"user_id"`
	BorrowDate time.Time       `db:"borrow_date"`
	DueDate    time.Time       `db:"due_date"`
	ReturnDate sql.NullTime    `db:"return_date"`
	Penalty    decimal.Decimal `db:"penalty"`
}

func (r borrowRow) toBorrow() *Borrow {
	b := &Borrow{
		ID:         r.ID,
		ULID:       r.ULID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		BorrowDate: DateOf(r.BorrowDate),
		DueDate:    DateOf(r.DueDate),
		Penalty:    r.Penalty,
	}
	if r.ReturnDate.Valid {
		rd := DateOf(r.ReturnDate.Time)
		b.ReturnDate = &rd
	}
	return b
}

// MySQLStore は books / borrows テーブルを使う Store 実装
type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(conn *sqlx.DB) *MySQLStore { return &MySQLStore{db: conn} }

func (s *MySQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &mysqlTx{tx: tx})
	})
}

func (s *MySQLStore) GetBook(ctx context.Context, id int64) (*Book, error) {
	const q = `SELECT id, title, author, category, rent_per_day, available FROM books WHERE id = ?`
	var r bookRow
	if err := s.db.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFound("book not found").With("book_id", id)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return r.toBook(), nil
}

func (s *MySQLStore) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	ds := goqu.Dialect(dialectMySQL).From(tblBooks).Prepared(true).
		Select(bookCols...).
		Order(goqu.C("id").Asc())

	var where []exp.Expression
	if f.Title != "" {
		// ILike は mysql 方言だと照合順序依存の LIKE（_ci 照合で大文字小文字無視）
		where = append(where, goqu.C("title").ILike(likeContains(f.Title)))
	}
	if f.Category != "" {
		where = append(where, goqu.C("category").ILike(likeContains(f.Category)))
	}
	if f.AvailableOnly {
		where = append(where, goqu.C("available").IsTrue())
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}

	q, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list books query: %w", err)
	}
	var rows []bookRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	out := make([]Book, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toBook())
	}
	return out, nil
}

func (s *MySQLStore) GetBorrow(ctx context.Context, id int64) (*Borrow, error) {
	const q = `
SELECT id, borrow_ulid, book_id, user_id, borrow_date, due_date, return_date, penalty
FROM borrows WHERE id = ?`
	var r borrowRow
	if err := s.db.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFound("borrow not found").With("borrow_id", id)
		}
		return nil, fmt.Errorf("get borrow: %w", err)
	}
	return r.toBorrow(), nil
}

func (s *MySQLStore) GetBorrowByULID(ctx context.Context, ulid string) (*Borrow, error) {
	const q = `
SELECT id, borrow_ulid, book_id, user_id, borrow_date, due_date, return_date, penalty
FROM borrows WHERE borrow_ulid = ?`
	var r borrowRow
	if err := s.db.GetContext(ctx, &r, q, ulid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFound("borrow not found").With("borrow_ulid", ulid)
		}
		return nil, fmt.Errorf("get borrow by ulid: %w", err)
	}
	return r.toBorrow(), nil
}

func (s *MySQLStore) ListBorrows(ctx context.Context, f BorrowFilter) ([]Borrow, error) {
	ds := goqu.Dialect(dialectMySQL).From(tblBorrows).Prepared(true).
		Select(borrowCols...).
		Order(goqu.C("id").Asc())

	var where []exp.Expression
	if f.UserID != "" {
		where = append(where, goqu.C("user_id").Eq(f.UserID))
	}
	if f.BookID != 0 {
		where = append(where, goqu.C("book_id").Eq(f.BookID))
	}
	if f.OpenOnly || !f.OverdueAt.IsZero() {
		where = append(where, goqu.C("return_date").IsNull())
	}
	if !f.OverdueAt.IsZero() {
		where = append(where, goqu.C("due_date").Lt(DateOf(f.OverdueAt)))
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}

	q, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list borrows query: %w", err)
	}
	var rows []borrowRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list borrows: %w", err)
	}

	out := make([]Borrow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toBorrow())
	}
	return out, nil
}

// ---- Tx ----

type mysqlTx struct {
	tx *sqlx.Tx
}

// LockBook: 行ロック（FOR UPDATE）。待ち時間は innodb_lock_wait_timeout と ctx の期限で打ち切られる。
func (t *mysqlTx) LockBook(ctx context.Context, id int64) (*Book, error) {
	const q = `SELECT id, title, author, category, rent_per_day, available FROM books WHERE id = ? FOR UPDATE`
	var r bookRow
	if err := t.tx.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFound("book not found").With("book_id", id)
		}
		return nil, mapLockErr(err, "lock book", "book_id", id)
	}
	return r.toBook(), nil
}

func (t *mysqlTx) LockBorrow(ctx context.Context, id int64) (*Borrow, error) {
	const q = `
SELECT id, borrow_ulid, book_id, user_id, borrow_date, due_date, return_date, penalty
FROM borrows WHERE id = ? FOR UPDATE`
	var r borrowRow
	if err := t.tx.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFound("borrow not found").With("borrow_id", id)
		}
		return nil, mapLockErr(err, "lock borrow", "borrow_id", id)
	}
	return r.toBorrow(), nil
}

func (t *mysqlTx) OpenBorrowFor(ctx context.Context, bookID int64) (*Borrow, error) {
	const q = `
SELECT id, borrow_ulid, book_id, user_id, borrow_date, due_date, return_date, penalty
FROM borrows WHERE book_id = ? AND return_date IS NULL
LIMIT 1 FOR UPDATE`
	var r borrowRow
	if err := t.tx.GetContext(ctx, &r, q, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapLockErr(err, "open borrow for book", "book_id", bookID)
	}
	return r.toBorrow(), nil
}

func (t *mysqlTx) InsertBook(ctx context.Context, b *Book) error {
	const q = `
INSERT INTO books (title, author, category, rent_per_day, available, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, NOW(6), NOW(6))`
	res, err := t.tx.ExecContext(ctx, q, b.Title, b.Author, b.Category, b.RentPerDay, b.Available)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	b.ID = id
	return nil
}

func (t *mysqlTx) UpdateBook(ctx context.Context, b *Book) error {
	const q = `
UPDATE books
SET title = ?, author = ?, category = ?, rent_per_day = ?, available = ?, updated_at = NOW(6)
WHERE id = ?`
	// 値が同じだと RowsAffected=0 になるので、存在確認は LockBook 側で済ませる
	if _, err := t.tx.ExecContext(ctx, q, b.Title, b.Author, b.Category, b.RentPerDay, b.Available, b.ID); err != nil {
		return mapLockErr(err, "update book", "book_id", b.ID)
	}
	return nil
}

func (t *mysqlTx) DeleteBook(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFound("book not found").With("book_id", id)
	}
	return nil
}

// MarkUnavailable: available=1 の行だけを更新する条件付き UPDATE
func (t *mysqlTx) MarkUnavailable(ctx context.Context, bookID int64) error {
	const q = `UPDATE books SET available = 0, updated_at = NOW(6) WHERE id = ? AND available = 1`
	res, err := t.tx.ExecContext(ctx, q, bookID)
	if err != nil {
		return mapLockErr(err, "mark unavailable", "book_id", bookID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark unavailable: %w", err)
	}
	if n != 1 {
		return NewUnavailable("book is already on loan").With("book_id", bookID)
	}
	return nil
}

func (t *mysqlTx) MarkAvailable(ctx context.Context, bookID int64) error {
	const q = `UPDATE books SET available = 1, updated_at = NOW(6) WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, q, bookID); err != nil {
		return mapLockErr(err, "mark available", "book_id", bookID)
	}
	return nil
}

func (t *mysqlTx) InsertBorrow(ctx context.Context, b *Borrow) error {
	const q = `
INSERT INTO borrows (borrow_ulid, book_id, user_id, borrow_date, due_date, return_date, penalty)
VALUES (?, ?, ?, ?, ?, NULL, ?)`
	res, err := t.tx.ExecContext(ctx, q, b.ULID, b.BookID, b.UserID, b.BorrowDate, b.DueDate, b.Penalty)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == errDupEntry {
			// uq_borrows_open_book（open な貸出は1冊1件）に抵触
			return NewUnavailable("book already has an open borrow").With("book_id", b.BookID)
		}
		return fmt.Errorf("insert borrow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert borrow: %w", err)
	}
	b.ID = id
	return nil
}

func (t *mysqlTx) CloseBorrow(ctx context.Context, id int64, returnDate time.Time, penalty decimal.Decimal) error {
	const q = `UPDATE borrows SET return_date = ?, penalty = ? WHERE id = ? AND return_date IS NULL`
	res, err := t.tx.ExecContext(ctx, q, DateOf(returnDate), penalty, id)
	if err != nil {
		return mapLockErr(err, "close borrow", "borrow_id", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close borrow: %w", err)
	}
	if n != 1 {
		return NewAlreadyReturned("borrow already returned").With("borrow_id", id)
	}
	return nil
}

func (t *mysqlTx) DeleteBorrow(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM borrows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete borrow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFound("borrow not found").With("borrow_id", id)
	}
	return nil
}

// mapLockErr はロック待ちタイムアウト・デッドロックを CONFLICT に変換する
func mapLockErr(err error, op, key string, id int64) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == errLockWaitTimeout || me.Number == errDeadlockDetected) {
		return NewConflict("book is locked by another operation").With(key, id)
	}
	return fmt.Errorf("%s: %w", op, err)
}
