package lending

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"LIB-backend/internal/access"
	"LIB-backend/internal/platform/requestid"
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Policy は貸出日数の範囲と「今日」を決めるタイムゾーン
type Policy struct {
	MinDays  int            `validate:"gte=1"`
	MaxDays  int            `validate:"gtefield=MinDays"`
	Location *time.Location `validate:"-"`
}

func DefaultPolicy() Policy {
	return Policy{MinDays: 1, MaxDays: 30, Location: time.UTC}
}

// ===== Engine本体 =====

// Engine is the single entry point of the lending domain. Every method authorizes the
// caller before touching the store and runs its writes in one transaction.
type Engine struct {
	store    Store
	policy   Policy
	clock    Clock
	id       IDGen
	validate *validator.Validate
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }
func WithIDGen(g IDGen) Option { return func(e *Engine) { e.id = g } }

func NewEngine(store Store, policy Policy, opts ...Option) (*Engine, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(policy); err != nil {
		return nil, fmt.Errorf("invalid lending policy: %w", err)
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	e := &Engine{
		store:    store,
		policy:   policy,
		clock:    realClock{},
		id:       ulidGen{},
		validate: v,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) Policy() Policy { return e.policy }

// today は policy のタイムゾーンでの暦日
func (e *Engine) today() time.Time {
	return DateOf(e.clock.Now().In(e.policy.Location))
}

func authorize(id access.Identity, op access.Operation) error {
	if !access.Authorize(id.Role, op) {
		return NewForbidden(fmt.Sprintf("role %s may not %s", id.Role, op)).
			With("user_id", id.UserID)
	}
	return nil
}

// ---------- catalog ----------

func (e *Engine) ListBooks(ctx context.Context, id access.Identity, f BookFilter) ([]Book, error) {
	if err := authorize(id, access.OpListBooks); err != nil {
		return nil, err
	}
	f.Title = normalizeText(f.Title)
	f.Category = normalizeText(f.Category)
	return e.store.ListBooks(ctx, f)
}

func (e *Engine) GetBook(ctx context.Context, id access.Identity, bookID int64) (*Book, error) {
	if err := authorize(id, access.OpGetBook); err != nil {
		return nil, err
	}
	return e.store.GetBook(ctx, bookID)
}

func (e *Engine) CreateBook(ctx context.Context, id access.Identity, spec BookSpec) (*Book, error) {
	if err := authorize(id, access.OpCreateBook); err != nil {
		return nil, err
	}
	spec, err := e.checkSpec(spec)
	if err != nil {
		return nil, err
	}
	// 新規の本に open な貸出は存在し得ないので false は矛盾
	if spec.Available != nil && !*spec.Available {
		return nil, NewInvalidArgument("a new book cannot be created unavailable")
	}

	b := &Book{
		Title:      spec.Title,
		Author:     spec.Author,
		Category:   spec.Category,
		RentPerDay: spec.RentPerDay,
		Available:  true,
	}
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertBook(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] book created: id=%d by=%s req=%s", b.ID, id.UserID, requestid.FromContext(ctx))
	return b, nil
}

// UpdateBook overwrites the descriptive fields. Availability is recomputed from the ledger,
// the flag in spec is ignored.
func (e *Engine) UpdateBook(ctx context.Context, id access.Identity, bookID int64, spec BookSpec) (*Book, error) {
	if err := authorize(id, access.OpUpdateBook); err != nil {
		return nil, err
	}
	spec, err := e.checkSpec(spec)
	if err != nil {
		return nil, err
	}

	var out *Book
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		open, err := tx.OpenBorrowFor(ctx, bookID)
		if err != nil {
			return err
		}
		b.Title = spec.Title
		b.Author = spec.Author
		b.Category = spec.Category
		b.RentPerDay = spec.RentPerDay
		b.Available = open == nil
		if err := tx.UpdateBook(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBook removes a book. An open borrow blocks the delete unless cascade is set,
// in which case that borrow is removed with it. Closed borrows stay as history.
func (e *Engine) DeleteBook(ctx context.Context, id access.Identity, bookID int64, cascade bool) error {
	if err := authorize(id, access.OpDeleteBook); err != nil {
		return err
	}
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		open, err := tx.OpenBorrowFor(ctx, bookID)
		if err != nil {
			return err
		}
		if open != nil {
			if !cascade {
				return NewConflict("book has an open borrow").
					With("book_id", bookID).With("borrow_id", open.ID)
			}
			if err := tx.DeleteBorrow(ctx, open.ID); err != nil {
				return err
			}
		}
		return tx.DeleteBook(ctx, bookID)
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] book deleted: id=%d cascade=%t by=%s req=%s", bookID, cascade, id.UserID, requestid.FromContext(ctx))
	return nil
}

func (e *Engine) checkSpec(spec BookSpec) (BookSpec, error) {
	spec.Title = normalizeText(spec.Title)
	spec.Author = strings.TrimSpace(spec.Author)
	spec.Category = normalizeText(spec.Category)
	if err := e.validate.Struct(spec); err != nil {
		return spec, NewInvalidArgument(validationMessage(err))
	}
	if spec.RentPerDay.IsNegative() {
		return spec, NewInvalidArgument("rent_per_day must be >= 0")
	}
	// DECIMAL(12,2) に丸められないよう、3桁目以降が非ゼロなら拒否
	if !spec.RentPerDay.Equal(spec.RentPerDay.Round(2)) {
		return spec, NewInvalidArgument("rent_per_day allows at most 2 decimal places")
	}
	return spec, nil
}

// validationMessage は validator のエラーを "field: tag" の並びにする
func validationMessage(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// ---------- ledger ----------

// Borrow lends bookID to the caller for days days starting today.
func (e *Engine) Borrow(ctx context.Context, id access.Identity, bookID int64, days int) (*Borrow, error) {
	if err := authorize(id, access.OpBorrow); err != nil {
		return nil, err
	}
	if id.UserID == "" {
		return nil, NewInvalidArgument("user id is required")
	}
	if days < e.policy.MinDays || days > e.policy.MaxDays {
		return nil, NewInvalidArgument(fmt.Sprintf("days must be between %d and %d", e.policy.MinDays, e.policy.MaxDays)).
			With("days", days)
	}

	ref, err := e.id.New()
	if err != nil {
		return nil, fmt.Errorf("generate borrow ulid: %w", err)
	}
	today := e.today()
	br := &Borrow{
		ULID:       ref,
		BookID:     bookID,
		UserID:     id.UserID,
		BorrowDate: today,
		DueDate:    AddDays(today, days),
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if !b.Available {
			return NewUnavailable("book is already on loan").With("book_id", bookID)
		}
		if err := tx.MarkUnavailable(ctx, bookID); err != nil {
			return err
		}
		return tx.InsertBorrow(ctx, br)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] borrow created: id=%d book=%d user=%s due=%s req=%s",
		br.ID, br.BookID, br.UserID, br.DueDate.Format(time.DateOnly), requestid.FromContext(ctx))
	return br, nil
}

// ReturnBorrow closes the caller's open borrow today and freezes its penalty.
func (e *Engine) ReturnBorrow(ctx context.Context, id access.Identity, borrowID int64) (*Borrow, error) {
	if err := authorize(id, access.OpReturnBorrow); err != nil {
		return nil, err
	}
	// 借り手は不変なので、所有者チェックはロック前の読み取りで足りる
	pre, err := e.store.GetBorrow(ctx, borrowID)
	if err != nil {
		return nil, err
	}
	if pre.UserID != id.UserID {
		return nil, NewForbidden("borrow belongs to another user").With("borrow_id", borrowID)
	}

	today := e.today()
	var out *Borrow
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		// 閉じた貸出の本は削除済みのことがある
		book, err := tx.LockBook(ctx, pre.BookID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		br, err := tx.LockBorrow(ctx, borrowID)
		if err != nil {
			return err
		}
		if !br.IsOpen() {
			return NewAlreadyReturned("borrow already returned").With("borrow_id", borrowID)
		}
		if book == nil {
			return NewInternal("open borrow references a missing book").With("borrow_id", borrowID)
		}

		penalty := Penalty(br.DueDate, today, book.RentPerDay)
		if err := tx.CloseBorrow(ctx, borrowID, today, penalty); err != nil {
			return err
		}
		if err := tx.MarkAvailable(ctx, book.ID); err != nil {
			return err
		}
		br.ReturnDate = &today
		br.Penalty = penalty
		out = br
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Penalty.IsPositive() {
		log.Printf("[WARN] overdue return: id=%d book=%d user=%s days=%d penalty=%s req=%s",
			out.ID, out.BookID, out.UserID, OverdueDays(out.DueDate, today), out.Penalty.StringFixed(2), requestid.FromContext(ctx))
	} else {
		log.Printf("[INFO] borrow returned: id=%d book=%d user=%s req=%s", out.ID, out.BookID, out.UserID, requestid.FromContext(ctx))
	}
	return out, nil
}

func (e *Engine) ListAllBorrows(ctx context.Context, id access.Identity, f BorrowFilter) ([]Borrow, error) {
	if err := authorize(id, access.OpListAllBorrows); err != nil {
		return nil, err
	}
	if f.Overdue {
		f.OverdueAt = e.today()
	}
	return e.store.ListBorrows(ctx, f)
}

func (e *Engine) ListMyBorrows(ctx context.Context, id access.Identity) ([]Borrow, error) {
	if err := authorize(id, access.OpListMyBorrows); err != nil {
		return nil, err
	}
	return e.store.ListBorrows(ctx, BorrowFilter{UserID: id.UserID})
}

// GetBorrow looks a borrow up by numeric id or by its ULID.
// Users can only see their own borrows.
func (e *Engine) GetBorrow(ctx context.Context, id access.Identity, key string) (*Borrow, error) {
	if err := authorize(id, access.OpGetBorrow); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)

	var (
		br  *Borrow
		err error
	)
	if n, perr := strconv.ParseInt(key, 10, 64); perr == nil {
		br, err = e.store.GetBorrow(ctx, n)
	} else if u, perr := ulid.ParseStrict(key); perr == nil {
		br, err = e.store.GetBorrowByULID(ctx, u.String())
	} else {
		return nil, NewInvalidArgument("borrow key must be an id or a ulid").With("key", key)
	}
	if err != nil {
		return nil, err
	}
	if !id.IsAdmin() && br.UserID != id.UserID {
		return nil, NewForbidden("borrow belongs to another user").With("borrow_id", br.ID)
	}
	return br, nil
}

// DeleteBorrow removes a borrow record. Deleting an open borrow makes its book available again.
func (e *Engine) DeleteBorrow(ctx context.Context, id access.Identity, borrowID int64) error {
	if err := authorize(id, access.OpDeleteBorrow); err != nil {
		return err
	}
	pre, err := e.store.GetBorrow(ctx, borrowID)
	if err != nil {
		return err
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		book, err := tx.LockBook(ctx, pre.BookID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		br, err := tx.LockBorrow(ctx, borrowID)
		if err != nil {
			return err
		}
		if err := tx.DeleteBorrow(ctx, borrowID); err != nil {
			return err
		}
		if br.IsOpen() && book != nil {
			return tx.MarkAvailable(ctx, book.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] borrow deleted: id=%d by=%s req=%s", borrowID, id.UserID, requestid.FromContext(ctx))
	return nil
}
