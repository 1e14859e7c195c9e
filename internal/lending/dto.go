package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// 書籍登録・更新リクエスト
type BookRequest struct {
	Title    string `json:"title" binding:"required"`
	Author   string `json:"author"`
	Category string `json:"category"`
	// "1.50" と 1.5 のどちらでも受け付ける
	RentPerDay decimal.Decimal `json:"rent_per_day"`
	// 更新時は無視される（貸出状況から再計算）
	Available *bool `json:"available,omitempty"`
}

func (r BookRequest) toSpec() BookSpec {
	return BookSpec{
		Title:      r.Title,
		Author:     r.Author,
		Category:   r.Category,
		RentPerDay: r.RentPerDay,
		Available:  r.Available,
	}
}

type BookResponse struct {
	ID         int64           `json:"id"`
	Title      string          `json:"title"`
	Author     string          `json:"author"`
	Category   string          `json:"category"`
	RentPerDay decimal.Decimal `json:"rent_per_day"`
	Available  bool            `json:"available"`
}

func toBookResponse(b *Book) BookResponse {
	return BookResponse{
		ID:         b.ID,
		Title:      b.Title,
		Author:     b.Author,
		Category:   b.Category,
		RentPerDay: b.RentPerDay,
		Available:  b.Available,
	}
}

// 貸出リクエスト
type BorrowRequest struct {
	BookID int64 `json:"book_id" binding:"required"`
	Days   int   `json:"days" binding:"required"`
}

// 貸出レスポンス（日付は "2006-01-02"）
type BorrowResponse struct {
	ID         int64           `json:"id"`
	ULID       string          `json:"borrow_ulid"`
	BookID     int64           `json:"book_id"`
	UserID     string          `json:"user_id"`
	BorrowDate string          `json:"borrow_date"`
	DueDate    string          `json:"due_date"`
	ReturnDate *string         `json:"return_date,omitempty"`
	Penalty    decimal.Decimal `json:"penalty"`
	Returned   bool            `json:"returned"`
}

func toBorrowResponse(b *Borrow) BorrowResponse {
	res := BorrowResponse{
		ID:         b.ID,
		ULID:       b.ULID,
		BookID:     b.BookID,
		UserID:     b.UserID,
		BorrowDate: b.BorrowDate.Format(time.DateOnly),
		DueDate:    b.DueDate.Format(time.DateOnly),
		Penalty:    b.Penalty,
		Returned:   !b.IsOpen(),
	}
	if b.ReturnDate != nil {
		s := b.ReturnDate.Format(time.DateOnly)
		res.ReturnDate = &s
	}
	return res
}

type BookListResponse struct {
	Items []BookResponse `json:"items"`
	Total int            `json:"total"`
}

type BorrowListResponse struct {
	Items []BorrowResponse `json:"items"`
	Total int              `json:"total"`
}
