package plans

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian/internal/observability"
	"github.com/meridian-crm/meridian/internal/platform/db"
	"github.com/meridian-crm/meridian/internal/shared"
)

// RepositoryPort defines data access for the synchronizer.
type RepositoryPort interface {
	GetPledge(ctx context.Context, q db.Querier, id int64) (*Pledge, error)
	SumReceivedForPledge(ctx context.Context, q db.Querier, pledgeID int64) (float64, error)
	UpdatePledgeTotals(ctx context.Context, q db.Querier, pledgeID int64, totalPaid, balance float64) error
	GetPlanByPledge(ctx context.Context, q db.Querier, pledgeID int64) (*PaymentPlan, error)
	SumReceivedForPlan(ctx context.Context, q db.Querier, planID int64) (float64, int, error)
	UpdatePlanTotals(ctx context.Context, q db.Querier, planID int64, totalPaid float64, installmentsPaid int, remaining float64) error
	ListPledgeIDs(ctx context.Context, q db.Querier) ([]int64, error)
}

// Service folds settled payments and allocations back into pledge and payment
// plan aggregates. Resync of the same pledge is serialized via the pledge
// lock; the recompute itself is a full resum so it converges after edits,
// deletions and bulk corrections.
type Service struct {
	pool    *pgxpool.Pool
	repo    RepositoryPort
	locker  *shared.PledgeLocker
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService builds a Service instance. pool may be nil in tests, in which
// case resync runs without a wrapping transaction.
func NewService(pool *pgxpool.Pool, repo RepositoryPort, locker *shared.PledgeLocker, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{pool: pool, repo: repo, locker: locker, logger: logger, metrics: metrics}
}

// ResyncPledge recomputes one pledge's aggregates under the pledge lock, in
// its own transaction. Used by the settlement job, the integrity scan and the
// bulk recompute script.
func (s *Service) ResyncPledge(ctx context.Context, pledgeID int64) error {
	release, err := s.locker.Acquire(ctx, pledgeID)
	if err != nil {
		return err
	}
	defer release()

	if s.pool == nil {
		return s.observe(s.resync(ctx, nil, pledgeID))
	}
	return s.observe(db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return s.resync(ctx, tx, pledgeID)
	}))
}

// ListPledgeIDs lists every pledge id for the integrity scan and the bulk
// recompute script.
func (s *Service) ListPledgeIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListPledgeIDs(ctx, s.pool)
}

// ResyncPledgeTx recomputes one pledge's aggregates inside the caller's
// transaction. The caller must already hold the pledge lock.
func (s *Service) ResyncPledgeTx(ctx context.Context, tx pgx.Tx, pledgeID int64) error {
	return s.observe(s.resync(ctx, tx, pledgeID))
}

func (s *Service) observe(err error) error {
	if err != nil {
		s.metrics.ObservePledgeResync("failed")
		return err
	}
	s.metrics.ObservePledgeResync("ok")
	return nil
}

func (s *Service) resync(ctx context.Context, q db.Querier, pledgeID int64) error {
	pledge, err := s.repo.GetPledge(ctx, q, pledgeID)
	if err != nil {
		return err
	}
	if pledge == nil {
		return fmt.Errorf("%w: pledge %d", shared.ErrNotFound, pledgeID)
	}

	sum, err := s.repo.SumReceivedForPledge(ctx, q, pledgeID)
	if err != nil {
		return err
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) || sum < 0 {
		return fmt.Errorf("%w: pledge %d resummed to %v", shared.ErrAggregation, pledgeID, sum)
	}

	totalPaid := shared.Round2(sum)
	balance := shared.Round2(pledge.OriginalAmount - totalPaid)
	if err := s.repo.UpdatePledgeTotals(ctx, q, pledgeID, totalPaid, balance); err != nil {
		return err
	}

	// Re-read under the same transaction: if the resum no longer matches what
	// was written, the aggregate did not converge and the whole transaction
	// must abort rather than commit a partially-synced total.
	verify, err := s.repo.SumReceivedForPledge(ctx, q, pledgeID)
	if err != nil {
		return err
	}
	if !shared.AmountsEqual(shared.Round2(verify), totalPaid) {
		return fmt.Errorf("%w: pledge %d drifted during resync (%.2f != %.2f)",
			shared.ErrAggregation, pledgeID, verify, totalPaid)
	}

	plan, err := s.repo.GetPlanByPledge(ctx, q, pledgeID)
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	planPaid, settledCount, err := s.repo.SumReceivedForPlan(ctx, q, plan.ID)
	if err != nil {
		return err
	}
	if math.IsNaN(planPaid) || math.IsInf(planPaid, 0) || planPaid < 0 {
		return fmt.Errorf("%w: plan %d resummed to %v", shared.ErrAggregation, plan.ID, planPaid)
	}

	planTotalPaid := shared.Round2(planPaid)
	remaining := shared.Round2(plan.TotalAmount - planTotalPaid)
	if err := s.repo.UpdatePlanTotals(ctx, q, plan.ID, planTotalPaid, settledCount, remaining); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("pledge resynced",
			slog.Int64("pledge_id", pledgeID),
			slog.Float64("total_paid", totalPaid),
			slog.Float64("balance", balance))
	}
	return nil
}
