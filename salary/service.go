package salary

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
)

// Store persists salary snapshots. It is append-only: there is no update and
// no delete.
type Store interface {
	CreateSalarySnapshot(ctx context.Context, s *Snapshot) error

	// LatestSalarySnapshot returns the snapshot with the latest effective date
	// <= asOf, or generic.ErrNotFound.
	LatestSalarySnapshot(ctx context.Context, tenantID generic.TenantID, owner generic.Owner, asOf time.Time) (*Snapshot, error)

	// ListSalarySnapshots returns all snapshots of an owner, latest effective first.
	ListSalarySnapshots(ctx context.Context, tenantID generic.TenantID, owner generic.Owner) ([]*Snapshot, error)
}

// TemplateStore persists templates. (tenant, name, version) is unique; saving
// a duplicate returns generic.ErrConflict.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, tenantID generic.TenantID, id string) (*Template, error)
	ListTemplates(ctx context.Context, tenantID generic.TenantID) ([]*Template, error)
}

// Service resolves and persists salary assignments.
type Service struct {
	Store  Store
	Clock  generic.Clock
	Logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Store: store, Clock: generic.SystemClock{}, Logger: logger}
}

// Preview resolves without persisting anything.
func (s *Service) Preview(t *Template, annualCTC decimal.Decimal) (Breakdown, error) {
	return Preview(t, annualCTC)
}

// Assign resolves t for req and stores the result as a new snapshot. A missing
// effective date means today.
func (s *Service) Assign(ctx context.Context, t *Template, req Request) (*Snapshot, error) {
	now := s.Clock.Now()
	if req.EffectiveDate.IsZero() {
		req.EffectiveDate = generic.DateOnly(now)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}

	snap, err := Resolve(t, req)
	if err != nil {
		s.Logger.Warn("salary resolution failed",
			zap.String("tenant", string(req.TenantID)),
			zap.String("owner", req.Owner.String()),
			zap.Error(err))
		return nil, err
	}
	if err := s.Store.CreateSalarySnapshot(ctx, snap); err != nil {
		return nil, err
	}

	s.Logger.Info("salary snapshot created",
		zap.String("snapshot", snap.ID()),
		zap.String("tenant", string(snap.TenantID())),
		zap.String("owner", snap.Owner().String()),
		zap.String("ctc", snap.CTC().String()),
		zap.Time("effective_date", snap.EffectiveDate()))
	return snap, nil
}

// Current returns the salary in force at asOf.
func (s *Service) Current(ctx context.Context, tenantID generic.TenantID, owner generic.Owner, asOf time.Time) (*Snapshot, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.Store.LatestSalarySnapshot(ctx, tenantID, owner, asOf)
}

// History returns every snapshot of owner, latest effective first.
func (s *Service) History(ctx context.Context, tenantID generic.TenantID, owner generic.Owner) ([]*Snapshot, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.Store.ListSalarySnapshots(ctx, tenantID, owner)
}
