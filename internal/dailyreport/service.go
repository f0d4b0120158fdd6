package dailyreport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-pos/meridian-pos/internal/platform/cache"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// TxRepository groups the writes of one report lifecycle event.
type TxRepository interface {
	// InsertOpenReport inserts a new open report, returning
	// DuplicateOpenError when the business already has one open.
	InsertOpenReport(ctx context.Context, r Report) (Report, error)
	// GetOpenForUpdate locks the business's open report whatever day it
	// was opened on, so an overnight shift stays reachable.
	GetOpenForUpdate(ctx context.Context, businessID int64) (Report, error)
	AppendExpense(ctx context.Context, reportID int64, e Expense) error
	// RebuildSalesSummary recomputes the sales rollup from the invoice
	// rows created between from and to inclusive, the authoritative
	// source for the close snapshot.
	RebuildSalesSummary(ctx context.Context, businessID int64, from, to time.Time) (SalesSummary, error)
	MarkClosed(ctx context.Context, r Report) error
}

// RepositoryPort defines data access for the report aggregator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOpenReport(ctx context.Context, businessID int64) (Report, error)
	GetReport(ctx context.Context, id int64) (Report, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains the per-business, per-day cash ledger.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  *cache.TTLCache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, summaryCache *cache.TTLCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: summaryCache, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Open starts the day's report with the drawer's opening amount.
func (s *Service) Open(ctx context.Context, in OpenInput) (Report, error) {
	if err := in.Validate(); err != nil {
		return Report{}, err
	}
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)

	report := Report{
		BusinessID: in.BusinessID,
		Date:       Day(now),
		Status:     StatusOpen,
		Sales:      SalesSummary{PerMethod: map[string]MethodTotals{}},
		CashRegister: CashRegister{
			InitialAmount: in.InitialAmount,
			FinalAmount:   in.InitialAmount,
		},
		OpenedBy: actorID,
		OpenedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertOpenReport(ctx, report)
		if err != nil {
			return err
		}
		report = inserted
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	s.invalidateSummary(ctx, in.BusinessID)
	s.recordAudit(ctx, actorID, "dailyreport:open", report.ID, map[string]any{
		"initialAmount": in.InitialAmount,
	})
	return report, nil
}

// AddExpense registers an outflow on the business's open report.
func (s *Service) AddExpense(ctx context.Context, in ExpenseInput) (Report, error) {
	if err := in.Validate(); err != nil {
		return Report{}, err
	}
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)
	var report Report
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetOpenForUpdate(ctx, in.BusinessID)
		if err != nil {
			return err
		}
		expense := Expense{
			Amount:        in.Amount,
			Category:      in.Category,
			PaymentMethod: in.PaymentMethod,
			Note:          in.Note,
			ActorID:       actorID,
			At:            now,
		}
		if err := tx.AppendExpense(ctx, r.ID, expense); err != nil {
			return err
		}
		r.Expenses = append(r.Expenses, expense)
		report = r
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	s.invalidateSummary(ctx, in.BusinessID)
	s.recordAudit(ctx, actorID, "dailyreport:expense", report.ID, map[string]any{
		"amount":   in.Amount,
		"category": in.Category,
	})
	return report, nil
}

// Close snapshots the day: the sales summary is rebuilt from the
// invoices before the drawer difference is computed, so incremental
// drift never leaks into the closing numbers.
func (s *Service) Close(ctx context.Context, in CloseInput) (Report, error) {
	if in.BusinessID == 0 {
		return Report{}, fmt.Errorf("%w: business id required", shared.ErrValidation)
	}
	if in.FinalAmount < 0 {
		return Report{}, fmt.Errorf("%w: final amount must not be negative", shared.ErrValidation)
	}
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)
	var report Report
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetOpenForUpdate(ctx, in.BusinessID)
		if err != nil {
			return err
		}

		// The rebuild covers the report's whole open span, not the
		// calendar day, so sales rung up after midnight on an
		// overnight shift land in the closing numbers.
		rebuilt, err := tx.RebuildSalesSummary(ctx, in.BusinessID, r.OpenedAt, now)
		if err != nil {
			return err
		}
		if rebuilt.PerMethod == nil {
			rebuilt.PerMethod = map[string]MethodTotals{}
		}
		r.Sales = rebuilt

		r.Status = StatusClosed
		r.CashRegister.FinalAmount = in.FinalAmount
		r.CashRegister.Difference = tax.Round2(in.FinalAmount - r.CashRegister.InitialAmount - r.Sales.CashSales)
		r.ClosingNotes = in.ClosingNotes
		r.ClosedBy = actorID
		r.ClosedAt = &now
		if err := tx.MarkClosed(ctx, r); err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	s.invalidateSummary(ctx, in.BusinessID)
	s.recordAudit(ctx, actorID, "dailyreport:close", report.ID, map[string]any{
		"finalAmount": in.FinalAmount,
		"difference":  report.CashRegister.Difference,
	})
	return report, nil
}

// GetOpenReport loads the business's open report.
func (s *Service) GetOpenReport(ctx context.Context, businessID int64) (Report, error) {
	return s.repo.GetOpenReport(ctx, businessID)
}

// GetReport loads one report by id.
func (s *Service) GetReport(ctx context.Context, id int64) (Report, error) {
	return s.repo.GetReport(ctx, id)
}

// Summary serves the register read model, cached with a short TTL.
// Concurrent recomputations for the same business collapse into one.
func (s *Service) Summary(ctx context.Context, businessID int64) (Summary, error) {
	key := summaryKey(businessID)
	v, err, _ := s.group.Do(key, func() (any, error) {
		var summary Summary
		err := s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (any, error) {
			report, err := s.GetOpenReport(ctx, businessID)
			if err != nil {
				return nil, err
			}
			return buildSummary(report), nil
		})
		return summary, err
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func buildSummary(r Report) Summary {
	var expenseTotal float64
	for _, e := range r.Expenses {
		expenseTotal += e.Amount
	}
	return Summary{
		ReportID:     r.ID,
		BusinessID:   r.BusinessID,
		Date:         r.Date.Format("2006-01-02"),
		Status:       r.Status,
		Sales:        r.Sales,
		ExpenseTotal: tax.Round2(expenseTotal),
		CashRegister: r.CashRegister,
	}
}

func summaryKey(businessID int64) string {
	return fmt.Sprintf("dailyreport:summary:%d", businessID)
}

func (s *Service) invalidateSummary(ctx context.Context, businessID int64) {
	if err := s.cache.Invalidate(ctx, summaryKey(businessID)); err != nil {
		s.logger.Warn("invalidate summary cache", slog.Int64("business", businessID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, reportID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "daily_report",
		EntityID: fmt.Sprint(reportID),
		Meta:     meta,
	})
}
