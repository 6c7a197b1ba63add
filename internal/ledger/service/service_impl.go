package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	Catalog    *config.CatalogHolder
	PlanSvc    plandomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	catalog    *config.CatalogHolder
	planSvc    plandomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		catalog:    p.Catalog,
		planSvc:    p.PlanSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) HasSufficientCredits(ctx context.Context, accountID, action string) (bool, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return false, ledgerdomain.ErrInvalidAccount
	}
	cost, err := s.cost(action)
	if err != nil {
		return false, err
	}

	balance, err := s.repo.FindBalance(ctx, s.db, accountID)
	if err != nil {
		return false, err
	}
	if balance == nil {
		return false, ledgerdomain.ErrAccountNotFound
	}
	return balance.Credits >= cost, nil
}

// Deduct spends the action's cost and records the usage in one transaction.
// Concurrent callers can never push a balance below zero.
func (s *Service) Deduct(ctx context.Context, accountID, action string) (*ledgerdomain.CreditUsage, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	action = normalizeAction(action)
	cost, err := s.cost(action)
	if err != nil {
		s.obsMetrics.RecordDeduction(ctx, "unknown", obsmetrics.OutcomeRejected, 0)
		return nil, err
	}

	var usage *ledgerdomain.CreditUsage
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.repo.DecrementBalanceIfSufficient(ctx, tx, accountID, cost, now)
		if err != nil {
			return err
		}
		if !ok {
			balance, err := s.repo.FindBalance(ctx, tx, accountID)
			if err != nil {
				return err
			}
			if balance == nil {
				return ledgerdomain.ErrAccountNotFound
			}
			return ledgerdomain.ErrInsufficientCredits
		}

		usage = &ledgerdomain.CreditUsage{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Action:      action,
			CreditsUsed: cost,
			OccurredAt:  now,
		}
		return s.repo.InsertUsage(ctx, tx, usage)
	})
	if err != nil {
		s.obsMetrics.RecordDeduction(ctx, action, obsmetrics.OutcomeRejected, 0)
		return nil, err
	}

	s.obsMetrics.RecordDeduction(ctx, action, obsmetrics.OutcomeOK, cost)
	return usage, nil
}

func (s *Service) Grant(ctx context.Context, accountID string, amount int64, source ledgerdomain.GrantSource) (bool, error) {
	var granted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		granted, err = s.GrantTx(ctx, tx, accountID, amount, source)
		return err
	})
	if err != nil {
		return false, err
	}
	if granted {
		s.obsMetrics.RecordCreditGrant(ctx, string(source.Type), amount)
		s.log.Info("credits granted",
			zap.String("account_id", strings.TrimSpace(accountID)),
			zap.Int64("amount", amount),
			zap.String("source_type", string(source.Type)),
		)
	}
	return granted, nil
}

// GrantTx journals the grant and increments the balance on tx. It returns false
// without touching the balance when the source was already granted.
func (s *Service) GrantTx(ctx context.Context, tx *gorm.DB, accountID string, amount int64, source ledgerdomain.GrantSource) (bool, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return false, ledgerdomain.ErrInvalidAccount
	}
	if amount <= 0 {
		return false, ledgerdomain.ErrInvalidAmount
	}
	source.ID = strings.TrimSpace(source.ID)
	if source.Type == "" || source.ID == "" {
		return false, ledgerdomain.ErrInvalidGrantSource
	}

	now := s.clock.Now()
	inserted, err := s.repo.InsertGrant(ctx, tx, &ledgerdomain.CreditGrant{
		ID:         s.genID.Generate(),
		AccountID:  accountID,
		Amount:     amount,
		SourceType: source.Type,
		SourceID:   source.ID,
		CreatedAt:  now,
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	if err := s.repo.IncrementBalance(ctx, tx, accountID, amount, now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Balance(ctx context.Context, accountID string) (*ledgerdomain.CreditBalance, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	balance, err := s.repo.FindBalance(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return balance, nil
}

// OpenAccount creates the balance row and pays the FREE plan signup credits once.
func (s *Service) OpenAccount(ctx context.Context, accountID string) (*ledgerdomain.CreditBalance, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	free, err := s.planSvc.GetByTier(ctx, plandomain.TierFree)
	if err != nil {
		return nil, err
	}

	var (
		balance *ledgerdomain.CreditBalance
		granted bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		if _, err := s.repo.InsertBalance(ctx, tx, &ledgerdomain.CreditBalance{
			AccountID: accountID,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		if free.Credits > 0 {
			granted, err = s.GrantTx(ctx, tx, accountID, free.Credits, ledgerdomain.GrantSource{
				Type: ledgerdomain.SourceTypeSignup,
				ID:   accountID,
			})
			if err != nil {
				return err
			}
		}
		balance, err = s.repo.FindBalance(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if granted {
		s.obsMetrics.RecordCreditGrant(ctx, string(ledgerdomain.SourceTypeSignup), free.Credits)
		s.log.Info("account opened", zap.String("account_id", accountID), zap.Int64("signup_credits", free.Credits))
	}
	return balance, nil
}

func (s *Service) ListUsage(ctx context.Context, accountID string, page pagination.Pagination) ([]ledgerdomain.CreditUsage, pagination.PageInfo, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, pagination.PageInfo{}, ledgerdomain.ErrInvalidAccount
	}
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	limit := page.Limit()
	usages, err := s.repo.ListUsage(ctx, s.db, accountID, cursor, limit)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	items, info := pagination.Trim(usages, limit, func(u ledgerdomain.CreditUsage) string {
		return strconv.FormatInt(u.ID.Int64(), 10)
	})
	return items, info, nil
}

func (s *Service) cost(action string) (int64, error) {
	cost, ok := s.catalog.Cost(action)
	if !ok {
		return 0, ledgerdomain.ErrUnknownAction
	}
	return cost, nil
}

func normalizeAction(action string) string {
	return strings.ToUpper(strings.TrimSpace(action))
}
