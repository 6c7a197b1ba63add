package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/creditledger/internal/billing/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	providerdomain "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Cfg       config.Config
	SubRepo   subscriptiondomain.Repository
	PlanSvc   plandomain.Service
	LedgerSvc ledgerdomain.Service
	Provider  providerdomain.Provider
	Locks     *ratelimit.CommandLimiter `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	frontendURL string
	subRepo     subscriptiondomain.Repository
	planSvc     plandomain.Service
	ledgerSvc   ledgerdomain.Service
	provider    providerdomain.Provider
	locks       *ratelimit.CommandLimiter
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billing.service"),
		clock:       p.Clock,
		frontendURL: strings.TrimRight(p.Cfg.Stripe.FrontendURL, "/"),
		subRepo:     p.SubRepo,
		planSvc:     p.PlanSvc,
		ledgerSvc:   p.LedgerSvc,
		provider:    p.Provider,
		locks:       p.Locks,
	}
}

func (s *Service) StartCheckout(ctx context.Context, req billingdomain.StartCheckoutRequest) (*billingdomain.CheckoutResult, error) {
	accountID, err := normalizeAccount(req.AccountID)
	if err != nil {
		return nil, err
	}
	plan, err := s.purchasablePlan(ctx, req.Tier)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.subRepo.FindByAccountID(ctx, s.db, accountID, false)
	if err != nil {
		return nil, err
	}

	customerID := ""
	if sub != nil {
		customerID = sub.CustomerID()
	}
	if customerID == "" {
		customerID, err = s.provider.CreateCustomer(ctx, providerdomain.CreateCustomerInput{
			AccountID: accountID,
			Email:     strings.TrimSpace(req.Email),
		})
		if err != nil {
			return nil, remoteErr(err)
		}
	}

	session, err := s.provider.CreateCheckoutSession(ctx, providerdomain.CheckoutSessionInput{
		CustomerID: customerID,
		PriceID:    plan.PriceIDValue(),
		AccountID:  accountID,
		Tier:       string(plan.Tier),
		SuccessURL: s.frontendURL + "/subscription/success",
		CancelURL:  s.frontendURL + "/subscription/cancel",
	})
	if err != nil {
		return nil, remoteErr(err)
	}

	obslogger.WithContext(ctx, s.log).Info("checkout session created",
		zap.String("tier", string(plan.Tier)),
		zap.String("session_id", session.ID),
	)
	return &billingdomain.CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

func (s *Service) OpenBillingPortal(ctx context.Context, accountID string) (string, error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return "", err
	}
	sub, err := s.subRepo.FindByAccountID(ctx, s.db, accountID, false)
	if err != nil {
		return "", err
	}
	if sub == nil || sub.CustomerID() == "" {
		return "", billingdomain.ErrNoBillingAccount
	}

	url, err := s.provider.CreateBillingPortalSession(ctx, sub.CustomerID(), s.frontendURL+"/subscription")
	if err != nil {
		return "", remoteErr(err)
	}
	return url, nil
}

// CancelAtPeriodEnd returns the date the subscription stops, or now when the
// period end is unknown.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, accountID string) (time.Time, error) {
	sub, release, err := s.activeSubscription(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	defer release()

	if err := s.provider.UpdateSubscriptionCancelFlag(ctx, sub.RemoteID(), true); err != nil {
		return time.Time{}, remoteErr(err)
	}
	updated, err := s.mirror(ctx, sub.AccountID, func(sub *subscriptiondomain.Subscription) {
		sub.CancelAtPeriodEnd = true
	})
	if err != nil {
		return time.Time{}, err
	}
	if updated.CurrentPeriodEnd != nil {
		return *updated.CurrentPeriodEnd, nil
	}
	return s.clock.Now(), nil
}

func (s *Service) Reactivate(ctx context.Context, accountID string) error {
	sub, release, err := s.activeSubscription(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.provider.UpdateSubscriptionCancelFlag(ctx, sub.RemoteID(), false); err != nil {
		return remoteErr(err)
	}
	_, err = s.mirror(ctx, sub.AccountID, func(sub *subscriptiondomain.Subscription) {
		sub.CancelAtPeriodEnd = false
	})
	return err
}

// ChangeTier swaps the price on the remote subscription with prorations and
// mirrors the new tier locally.
func (s *Service) ChangeTier(ctx context.Context, accountID string, tier string) (*subscriptiondomain.Subscription, error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return nil, err
	}
	target, err := plandomain.ParseTier(tier)
	if err != nil {
		return nil, err
	}

	current, err := s.subRepo.FindByAccountID(ctx, s.db, accountID, false)
	if err != nil {
		return nil, err
	}
	currentTier := plandomain.TierFree
	if current != nil {
		currentTier = current.Tier
	}
	if currentTier == target {
		return nil, billingdomain.ErrAlreadyOnTier
	}

	plan, err := s.purchasablePlan(ctx, string(target))
	if err != nil {
		return nil, err
	}

	sub, release, err := s.activeSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	remote, err := s.provider.RetrieveSubscription(ctx, sub.RemoteID())
	if err != nil {
		return nil, remoteErr(err)
	}
	if len(remote.Items) == 0 {
		return nil, providerdomain.ErrSubscriptionNoItem
	}
	if err := s.provider.UpdateSubscriptionItem(ctx, remote.ID, remote.Items[0].ID, plan.PriceIDValue()); err != nil {
		return nil, remoteErr(err)
	}

	updated, err := s.mirror(ctx, accountID, func(sub *subscriptiondomain.Subscription) {
		sub.Tier = plan.Tier
		sub.ExternalPriceID = plan.PriceID
		sub.CreditsPerMonth = plan.CreditsPerMonth
	})
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("subscription tier changed",
		zap.String("from", string(currentTier)),
		zap.String("to", string(plan.Tier)),
	)
	return updated, nil
}

func (s *Service) GetStatus(ctx context.Context, accountID string) (*billingdomain.Status, error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subRepo.FindByAccountID(ctx, s.db, accountID, false)
	if err != nil {
		return nil, err
	}
	var view subscriptiondomain.Subscription
	if sub != nil {
		view = *sub
	} else {
		free, err := s.planSvc.GetByTier(ctx, plandomain.TierFree)
		if err != nil {
			return nil, err
		}
		view = subscriptiondomain.Default(accountID, *free)
	}

	credits := int64(0)
	balance, err := s.ledgerSvc.Balance(ctx, accountID)
	switch {
	case err == nil:
		credits = balance.Credits
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
	default:
		return nil, err
	}

	plan, err := s.planSvc.GetByTier(ctx, view.Tier)
	if err != nil {
		return nil, err
	}
	return &billingdomain.Status{Subscription: view, Credits: credits, Plan: plan}, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID string) (int64, error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return 0, err
	}
	balance, err := s.ledgerSvc.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return balance.Credits, nil
}

func (s *Service) purchasablePlan(ctx context.Context, tier string) (*plandomain.Plan, error) {
	parsed, err := plandomain.ParseTier(tier)
	if err != nil {
		return nil, err
	}
	plan, err := s.planSvc.GetByTier(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if !plan.Purchasable() {
		return nil, billingdomain.ErrPlanNotPurchasable
	}
	return plan, nil
}

// activeSubscription loads a subscription that still exists remotely and
// takes the per-account command lock.
func (s *Service) activeSubscription(ctx context.Context, accountID string) (*subscriptiondomain.Subscription, func(), error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.subRepo.FindByAccountID(ctx, s.db, accountID, false)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil || sub.RemoteID() == "" || sub.Status == subscriptiondomain.StatusCancelled {
		return nil, nil, billingdomain.ErrNoActiveSubscription
	}
	release, err := s.lock(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	return sub, release, nil
}

// mirror re-reads the row under lock and applies change to it.
func (s *Service) mirror(ctx context.Context, accountID string, change func(*subscriptiondomain.Subscription)) (*subscriptiondomain.Subscription, error) {
	var updated *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.FindByAccountID(ctx, tx, accountID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return billingdomain.ErrNoActiveSubscription
		}
		change(sub)
		sub.UpdatedAt = s.clock.Now()
		if err := s.subRepo.Save(ctx, tx, sub); err != nil {
			return err
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) lock(ctx context.Context, accountID string) (func(), error) {
	release, ok, err := s.locks.Acquire(ctx, accountID)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Warn("billing command lock failed", zap.Error(err))
		return nil, billingdomain.ErrLockUnavailable
	}
	if !ok {
		return nil, billingdomain.ErrCommandInProgress
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			obslogger.WithContext(ctx, s.log).Warn("billing command unlock failed", zap.Error(err))
		}
	}, nil
}

func normalizeAccount(accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", billingdomain.ErrInvalidAccount
	}
	return accountID, nil
}

func remoteErr(err error) error {
	return fmt.Errorf("%w: %w", billingdomain.ErrRemoteUnavailable, err)
}
