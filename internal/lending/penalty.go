package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateOf truncates t to its calendar date in t's location and returns it as UTC midnight,
// so that two dates are always a whole number of 24h apart.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns to - from in whole calendar days (negative when to is earlier).
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}

// AddDays returns the calendar date n days after d.
func AddDays(d time.Time, n int) time.Time {
	return DateOf(d).AddDate(0, 0, n)
}

// OverdueDays = max(0, returned - due)。期日当日の返却は 0。
func OverdueDays(due, returned time.Time) int {
	if n := DaysBetween(due, returned); n > 0 {
		return n
	}
	return 0
}

// Penalty is overdueDays * rentPerDay, rounded to cents.
func Penalty(due, returned time.Time, rentPerDay decimal.Decimal) decimal.Decimal {
	days := OverdueDays(due, returned)
	if days == 0 || rentPerDay.IsNegative() {
		return decimal.Zero
	}
	return rentPerDay.Mul(decimal.NewFromInt(int64(days))).Round(2)
}
