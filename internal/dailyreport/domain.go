package dailyreport

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Status is the report lifecycle; closing is one-way.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// MethodTotals accumulates count and amount for one payment method.
type MethodTotals struct {
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// SalesSummary is the per-day sales rollup. PerMethod is keyed by
// payment method name.
type SalesSummary struct {
	TotalSales   float64                 `json:"totalSales"`
	SalesCount   int64                   `json:"salesCount"`
	CashSales    float64                 `json:"cashSales"`
	RefundsTotal float64                 `json:"refundsTotal"`
	RefundsCount int64                   `json:"refundsCount"`
	PerMethod    map[string]MethodTotals `json:"perMethod"`
}

// Expense is one registered outflow during the business day.
type Expense struct {
	Amount        float64   `json:"amount"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"paymentMethod"`
	Note          string    `json:"note,omitempty"`
	ActorID       int64     `json:"actorId"`
	At            time.Time `json:"at"`
}

// CashRegister snapshots the drawer. Difference is computed at close:
// finalAmount − initialAmount − cashSales.
type CashRegister struct {
	InitialAmount float64 `json:"initialAmount"`
	FinalAmount   float64 `json:"finalAmount"`
	Difference    float64 `json:"difference"`
}

// MovementEntry is one inventory movement mirrored into the report.
type MovementEntry struct {
	Type      string    `json:"type"`
	ProductID int64     `json:"productId"`
	Qty       float64   `json:"qty"`
	Cost      float64   `json:"cost"`
	At        time.Time `json:"at"`
}

// Report is the per-business, per-shift cash and sales reconciliation
// ledger. At most one open report exists per business; a shift that
// runs past midnight keeps its opening date.
type Report struct {
	ID           int64
	BusinessID   int64
	Date         time.Time
	Status       Status
	Sales        SalesSummary
	Expenses     []Expense
	CashRegister CashRegister
	Movements    []MovementEntry
	ClosingNotes string
	OpenedBy     int64
	ClosedBy     int64
	OpenedAt     time.Time
	ClosedAt     *time.Time
}

// Summary is the cached read model served to the register UI.
type Summary struct {
	ReportID     int64        `json:"reportId"`
	BusinessID   int64        `json:"businessId"`
	Date         string       `json:"date"`
	Status       Status       `json:"status"`
	Sales        SalesSummary `json:"sales"`
	ExpenseTotal float64      `json:"expenseTotal"`
	CashRegister CashRegister `json:"cashRegister"`
}

// OpenInput opens a new report.
type OpenInput struct {
	BusinessID    int64
	InitialAmount float64
}

// Validate checks the open request.
func (in OpenInput) Validate() error {
	if in.BusinessID == 0 {
		return fmt.Errorf("%w: business id required", shared.ErrValidation)
	}
	if in.InitialAmount < 0 {
		return fmt.Errorf("%w: initial amount must not be negative", shared.ErrValidation)
	}
	return nil
}

// ExpenseInput registers an expense on the open report.
type ExpenseInput struct {
	BusinessID    int64
	Amount        float64
	Category      string
	PaymentMethod string
	Note          string
}

// Validate checks the expense request.
func (in ExpenseInput) Validate() error {
	if in.BusinessID == 0 {
		return fmt.Errorf("%w: business id required", shared.ErrValidation)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: expense amount must be positive", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Category) == "" {
		return fmt.Errorf("%w: expense category required", shared.ErrValidation)
	}
	return nil
}

// CloseInput closes the open report.
type CloseInput struct {
	BusinessID   int64
	FinalAmount  float64
	ClosingNotes string
}

// DuplicateOpenError reports a second open attempt for the same day.
type DuplicateOpenError struct {
	BusinessID int64
	Date       time.Time
}

func (e *DuplicateOpenError) Error() string {
	return fmt.Sprintf("dailyreport: business %d already has an open report (opened %s)",
		e.BusinessID, e.Date.Format("2006-01-02"))
}

func (e *DuplicateOpenError) Unwrap() error { return shared.ErrDuplicateOpenReport }

// ClosedError reports a write against a closed report.
type ClosedError struct {
	ReportID int64
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("dailyreport: report %d is closed", e.ReportID)
}

func (e *ClosedError) Unwrap() error { return shared.ErrInvalidStateTransition }

// NotFoundError reports a missing open report.
type NotFoundError struct {
	BusinessID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dailyreport: no open report for business %d", e.BusinessID)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
