package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// Book は books テーブルの1行（1冊 = 1行、複本なし）
type Book struct {
	ID         int64
	Title      string
	Author     string
	Category   string
	RentPerDay decimal.Decimal
	// Available は貸出中の Borrow が無いときだけ true。台帳の遷移でのみ変わる。
	Available bool
}

// BookSpec は登録・更新時の入力
type BookSpec struct {
	Title      string          `validate:"required,max=255"`
	Author     string          `validate:"max=255"`
	Category   string          `validate:"max=100"`
	RentPerDay decimal.Decimal `validate:"-"`
	// nil は指定なし。更新時は参考値として無視する。
	Available *bool `validate:"-"`
}

// Borrow は borrows テーブルの1行
type Borrow struct {
	ID         int64
	ULID       string
	BookID     int64
	UserID     string
	BorrowDate time.Time
	DueDate    time.Time
	// nil = 貸出中（open）
	ReturnDate *time.Time
	Penalty    decimal.Decimal
}

func (b *Borrow) IsOpen() bool { return b.ReturnDate == nil }

// IsOverdue reports whether an open borrow is past its due date on day today.
func (b *Borrow) IsOverdue(today time.Time) bool {
	return b.IsOpen() && DaysBetween(b.DueDate, today) > 0
}

// 書籍一覧の検索条件
type BookFilter struct {
	Title         string
	Category      string
	AvailableOnly bool
}

// 貸出一覧の検索条件
type BorrowFilter struct {
	UserID   string
	BookID   int64
	OpenOnly bool
	// Overdue はサービス層で OverdueAt（当日）に変換される
	Overdue bool
	// OverdueAt が非ゼロなら、その日付時点で期限切れの open な貸出のみ
	OverdueAt time.Time
}
