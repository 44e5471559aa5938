package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	SideIncome  Side = "income"
	SideExpense Side = "expense"
)

type (
	// Side partitions entries and their receipts into the income and
	// expense halves of the book.
	Side string

	// Date is a calendar date without a time component. It is stored and
	// serialized as yyyy-mm-dd.
	Date struct {
		time.Time
	}

	// Entry is one row of the cashbook. The Side/Amount pair is an
	// explicit variant: exactly one side carries the amount, the other
	// side does not exist on this entry.
	Entry struct {
		ID     int64  `json:"id"`
		Date   Date   `json:"date"`
		Side   Side   `json:"side"`
		Amount Amount `json:"amount"`

		BuyerOrPurpose string `json:"buyerOrPurpose,omitempty"`
		SoldArticle    string `json:"soldArticle,omitempty"`
		ExpensePurpose string `json:"expensePurpose,omitempty"`
		PaymentMethod  string `json:"paymentMethod,omitempty"`

		// LegacyReceiptPath is the deprecated single-file receipt
		// reference from pre-multi-receipt databases. Kept readable for
		// the startup backfill, never written for new entries.
		LegacyReceiptPath string `json:"-"`
	}

	// Receipt is the metadata row for one stored receipt file.
	Receipt struct {
		ID           int64     `json:"id"`
		EntryID      int64     `json:"entryId"`
		Side         Side      `json:"side"`
		OriginalName string    `json:"originalName"`
		StoredName   string    `json:"storedName"`
		RelativePath string    `json:"relativePath"`
		ContentHash  string    `json:"contentHash,omitempty"`
		AddedAt      time.Time `json:"addedAt"`
	}

	// View is the explicit year/month scope passed into every query.
	// Month 0 selects the whole year.
	View struct {
		Year  int
		Month int
	}
)

var (
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidSide    = errors.New("invalid side")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrBothSides      = errors.New("entry cannot carry both an income and an expense amount")
	ErrSideMismatch   = errors.New("receipt side does not match entry side")
	ErrEntryNotFound  = errors.New("entry not found")
	ErrReceiptMissing = errors.New("receipt not found")
)

const maxTextLen = 500

// NewDate builds a Date at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses the storage form yyyy-mm-dd.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (d Date) Year() int  { return d.Time.Year() }
func (d Date) Month() int { return int(d.Time.Month()) }
func (d Date) Day() int   { return d.Time.Day() }

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (s Side) Validate() error {
	switch s {
	case SideIncome, SideExpense:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidSide, string(s))
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideIncome {
		return SideExpense
	}
	return SideIncome
}

// NewIncomeEntry and NewExpenseEntry are the only ways new entries come
// into existence, so an entry with both amounts populated cannot be
// constructed. Legacy rows that violate this are classified on read.
func NewIncomeEntry(date Date, amount Amount) Entry {
	return Entry{Date: date, Side: SideIncome, Amount: amount}
}

func NewExpenseEntry(date Date, amount Amount) Entry {
	return Entry{Date: date, Side: SideExpense, Amount: amount}
}

func (e Entry) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := e.Side.Validate(); err != nil {
		return err
	}
	if !e.Amount.Positive() {
		return ErrInvalidAmount
	}
	for _, f := range []string{e.BuyerOrPurpose, e.SoldArticle, e.ExpensePurpose, e.PaymentMethod} {
		if len(f) > maxTextLen {
			return fmt.Errorf("text field too long (max %d characters)", maxTextLen)
		}
	}
	return nil
}

func (r Receipt) Validate() error {
	if r.EntryID <= 0 {
		return errors.New("receipt requires an owning entry")
	}
	if err := r.Side.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.StoredName) == "" {
		return errors.New("empty stored name")
	}
	if strings.TrimSpace(r.RelativePath) == "" {
		return errors.New("empty relative path")
	}
	return nil
}

func (v View) Validate() error {
	if v.Year < 1 {
		return fmt.Errorf("invalid year %d", v.Year)
	}
	if v.Month < 0 || v.Month > 12 {
		return fmt.Errorf("invalid month %d", v.Month)
	}
	return nil
}

// WholeYear reports whether the view spans all months.
func (v View) WholeYear() bool {
	return v.Month == 0
}
