package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	billingdomain "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        billingeventdomain.Repository
	SubRepo     subscriptiondomain.Repository
	PaymentRepo paymentdomain.Repository
	PlanSvc     plandomain.Service
	Granter     ledgerdomain.Granter
	Provider    billingdomain.Provider
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        billingeventdomain.Repository
	subRepo     subscriptiondomain.Repository
	paymentRepo paymentdomain.Repository
	planSvc     plandomain.Service
	granter     ledgerdomain.Granter
	provider    billingdomain.Provider
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) billingeventdomain.Reconciler {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billingevent.reconciler"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		subRepo:     p.SubRepo,
		paymentRepo: p.PaymentRepo,
		planSvc:     p.PlanSvc,
		granter:     p.Granter,
		provider:    p.Provider,
		obsMetrics:  p.ObsMetrics,
	}
}

// applyState is what one event needs besides the transaction.
type applyState struct {
	now    time.Time
	plans  map[plandomain.Tier]plandomain.Plan
	remote *billingdomain.RemoteSubscription
	grants []grantRecord
}

type grantRecord struct {
	source ledgerdomain.GrantSource
	amount int64
}

// Process stores the event in the inbox and applies it exactly once. Every
// state change of one event commits or rolls back together with its
// processed marker.
func (s *Service) Process(ctx context.Context, env billingeventdomain.Envelope) (billingeventdomain.Outcome, error) {
	env.Provider = strings.ToLower(strings.TrimSpace(env.Provider))
	env.EventID = strings.TrimSpace(env.EventID)
	if env.Provider == "" {
		return "", billingeventdomain.ErrInvalidProvider
	}
	if env.EventID == "" || env.Event == nil {
		return "", billingeventdomain.ErrInvalidEvent
	}
	if !json.Valid(env.Payload) {
		return "", billingeventdomain.ErrInvalidPayload
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("provider", env.Provider),
		zap.String("provider_event_id", env.EventID),
		zap.String("event_type", env.EventType),
	)

	state := &applyState{now: s.clock.Now()}
	record := billingeventdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        env.Provider,
		ProviderEventID: env.EventID,
		EventType:       env.EventType,
		Payload:         datatypes.JSON(env.Payload),
		ReceivedAt:      state.now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return "", fmt.Errorf("store inbox event: %w", err)
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, env.Provider, env.EventID, false)
		if err != nil {
			return "", err
		}
		if existing != nil && existing.ProcessedAt != nil {
			s.recordEvent(ctx, env, obsmetrics.OutcomeDuplicate)
			log.Debug("billing event already processed")
			return billingeventdomain.OutcomeDuplicate, nil
		}
	}

	plans, err := s.loadPlans(ctx)
	if err != nil {
		return "", err
	}
	state.plans = plans

	remote, err := s.prefetchRemote(ctx, env.Event, plans)
	if err != nil {
		s.recordEvent(ctx, env, obsmetrics.OutcomeError)
		return "", err
	}
	state.remote = remote

	var outcome billingeventdomain.Outcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.repo.FindEvent(ctx, tx, env.Provider, env.EventID, true)
		if err != nil {
			return err
		}
		if stored == nil {
			return billingeventdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			outcome = billingeventdomain.OutcomeDuplicate
			return nil
		}

		outcome, err = s.apply(ctx, tx, env.Event, state)
		if err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, tx, stored.ID, state.now)
	})
	if err != nil {
		s.recordEvent(ctx, env, obsmetrics.OutcomeError)
		log.Error("billing event failed", zap.Error(err))
		return "", err
	}

	s.recordEvent(ctx, env, metricOutcome(outcome))
	for _, g := range state.grants {
		s.obsMetrics.RecordCreditGrant(ctx, string(g.source.Type), g.amount)
	}
	log.Info("billing event processed", zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (s *Service) loadPlans(ctx context.Context) (map[plandomain.Tier]plandomain.Plan, error) {
	plans, err := s.planSvc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	byTier := make(map[plandomain.Tier]plandomain.Plan, len(plans))
	for _, plan := range plans {
		byTier[plan.Tier] = plan
	}
	return byTier, nil
}

// prefetchRemote looks up the remote subscription of a completed checkout so
// the transaction never waits on the network.
func (s *Service) prefetchRemote(ctx context.Context, event billingeventdomain.Event, plans map[plandomain.Tier]plandomain.Plan) (*billingdomain.RemoteSubscription, error) {
	checkout, ok := event.(billingeventdomain.CheckoutCompleted)
	if !ok {
		return nil, nil
	}
	if _, _, ok := checkoutTarget(checkout, plans); !ok {
		return nil, nil
	}
	subscriptionID, ok := checkout.SubscriptionID.Get()
	if !ok {
		return nil, nil
	}
	remote, err := s.provider.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve remote subscription: %w", err)
	}
	return remote, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event billingeventdomain.Event, state *applyState) (billingeventdomain.Outcome, error) {
	switch ev := event.(type) {
	case billingeventdomain.CheckoutCompleted:
		return s.applyCheckout(ctx, tx, ev, state)
	case billingeventdomain.SubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, tx, ev, state)
	case billingeventdomain.SubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, tx, ev, state)
	case billingeventdomain.InvoicePaymentSucceeded:
		return s.applyInvoiceSucceeded(ctx, tx, ev, state)
	case billingeventdomain.InvoicePaymentFailed:
		return s.applyInvoiceFailed(ctx, tx, ev, state)
	default:
		s.log.Info("ignoring unhandled billing event", zap.String("kind", string(event.Kind())))
		return billingeventdomain.OutcomeIgnored, nil
	}
}

func checkoutTarget(ev billingeventdomain.CheckoutCompleted, plans map[plandomain.Tier]plandomain.Plan) (string, plandomain.Plan, bool) {
	accountID := strings.TrimSpace(ev.AccountID.OrElse(""))
	if accountID == "" {
		return "", plandomain.Plan{}, false
	}
	tier, err := plandomain.ParseTier(ev.Tier.OrElse(""))
	if err != nil {
		return "", plandomain.Plan{}, false
	}
	plan, ok := plans[tier]
	if !ok || !plan.Purchasable() {
		return "", plandomain.Plan{}, false
	}
	return accountID, plan, true
}

func (s *Service) applyCheckout(ctx context.Context, tx *gorm.DB, ev billingeventdomain.CheckoutCompleted, state *applyState) (billingeventdomain.Outcome, error) {
	accountID, plan, ok := checkoutTarget(ev, state.plans)
	if !ok {
		s.log.Warn("checkout without usable account or tier metadata", zap.String("session_id", ev.SessionID))
		return billingeventdomain.OutcomeIgnored, nil
	}

	sub, err := s.subRepo.FindByAccountID(ctx, tx, accountID, true)
	if err != nil {
		return "", err
	}
	isNew := sub == nil
	if isNew {
		sub = &subscriptiondomain.Subscription{
			ID:        s.genID.Generate(),
			AccountID: accountID,
			CreatedAt: state.now,
		}
	}

	sub.Tier = plan.Tier
	sub.Status = subscriptiondomain.StatusActive
	sub.ExternalCustomerID = subscriptiondomain.StringPtr(ev.CustomerID.OrElse(sub.CustomerID()))
	sub.ExternalSubscriptionID = subscriptiondomain.StringPtr(ev.SubscriptionID.OrElse(sub.RemoteID()))
	sub.ExternalPriceID = subscriptiondomain.StringPtr(plan.PriceIDValue())
	if state.remote != nil {
		sub.CurrentPeriodStart = orExisting(state.remote.CurrentPeriodStart, sub.CurrentPeriodStart)
		sub.CurrentPeriodEnd = orExisting(state.remote.CurrentPeriodEnd, sub.CurrentPeriodEnd)
	}
	sub.CancelAtPeriodEnd = false
	sub.CreditsPerMonth = plan.CreditsPerMonth
	sub.UpdatedAt = state.now

	if isNew {
		err = s.subRepo.Insert(ctx, tx, sub)
	} else {
		err = s.subRepo.Save(ctx, tx, sub)
	}
	if err != nil {
		return "", err
	}

	if err := s.grant(ctx, tx, state, accountID, plan.Credits, ledgerdomain.GrantSource{
		Type: ledgerdomain.SourceTypeCheckoutSession,
		ID:   ev.SessionID,
	}); err != nil {
		return "", err
	}
	return billingeventdomain.OutcomeApplied, nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, tx *gorm.DB, ev billingeventdomain.SubscriptionUpdated, state *applyState) (billingeventdomain.Outcome, error) {
	sub, err := s.subRepo.FindByCustomerID(ctx, tx, ev.CustomerID, true)
	if err != nil {
		return "", err
	}
	if sub == nil {
		s.log.Warn("subscription update for unknown customer", zap.String("customer_id", ev.CustomerID))
		return billingeventdomain.OutcomeIgnored, nil
	}

	sub.Status = subscriptiondomain.StatusFromProvider(ev.Status)
	sub.CurrentPeriodStart = optionalOrExisting(ev.CurrentPeriodStart, sub.CurrentPeriodStart)
	sub.CurrentPeriodEnd = optionalOrExisting(ev.CurrentPeriodEnd, sub.CurrentPeriodEnd)
	sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd.OrElse(sub.CancelAtPeriodEnd)
	if sub.ExternalSubscriptionID == nil {
		sub.ExternalSubscriptionID = subscriptiondomain.StringPtr(ev.SubscriptionID)
	}
	sub.UpdatedAt = state.now

	if err := s.subRepo.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	return billingeventdomain.OutcomeApplied, nil
}

// applySubscriptionDeleted drops the account to FREE. Credits already granted
// stay on the balance and nothing is refunded.
func (s *Service) applySubscriptionDeleted(ctx context.Context, tx *gorm.DB, ev billingeventdomain.SubscriptionDeleted, state *applyState) (billingeventdomain.Outcome, error) {
	sub, err := s.subRepo.FindByCustomerID(ctx, tx, ev.CustomerID, true)
	if err != nil {
		return "", err
	}
	if sub == nil {
		s.log.Warn("subscription delete for unknown customer", zap.String("customer_id", ev.CustomerID))
		return billingeventdomain.OutcomeIgnored, nil
	}

	sub.Status = subscriptiondomain.StatusCancelled
	sub.Tier = plandomain.TierFree
	sub.CreditsPerMonth = state.plans[plandomain.TierFree].CreditsPerMonth
	sub.UpdatedAt = state.now

	if err := s.subRepo.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	return billingeventdomain.OutcomeApplied, nil
}

func (s *Service) applyInvoiceSucceeded(ctx context.Context, tx *gorm.DB, ev billingeventdomain.InvoicePaymentSucceeded, state *applyState) (billingeventdomain.Outcome, error) {
	sub, err := s.subRepo.FindByCustomerID(ctx, tx, ev.CustomerID, true)
	if err != nil {
		return "", err
	}
	if sub == nil {
		s.log.Warn("paid invoice for unknown customer", zap.String("customer_id", ev.CustomerID), zap.String("invoice_id", ev.InvoiceID))
		return billingeventdomain.OutcomeIgnored, nil
	}

	currency := ev.Currency.OrElse(paymentdomain.DefaultCurrency)
	recorded, err := s.recordPaid(ctx, tx, ev, sub.AccountID, currency, state.now)
	if err != nil {
		return "", err
	}
	if !recorded {
		return billingeventdomain.OutcomeDuplicate, nil
	}

	sub.CurrentPeriodStart = optionalOrExisting(ev.PeriodStart, sub.CurrentPeriodStart)
	sub.CurrentPeriodEnd = optionalOrExisting(ev.PeriodEnd, sub.CurrentPeriodEnd)
	sub.Status = subscriptiondomain.StatusActive
	sub.UpdatedAt = state.now
	if err := s.subRepo.Save(ctx, tx, sub); err != nil {
		return "", err
	}

	plan := state.plans[sub.Tier]
	if err := s.grant(ctx, tx, state, sub.AccountID, plan.CreditsPerMonth, ledgerdomain.GrantSource{
		Type: ledgerdomain.SourceTypeInvoice,
		ID:   ev.InvoiceID,
	}); err != nil {
		return "", err
	}
	return billingeventdomain.OutcomeApplied, nil
}

// recordPaid reports false when the invoice is already recorded, whatever its
// status. Payment rows are never rewritten.
func (s *Service) recordPaid(ctx context.Context, tx *gorm.DB, ev billingeventdomain.InvoicePaymentSucceeded, accountID, currency string, now time.Time) (bool, error) {
	return s.paymentRepo.InsertIfAbsent(ctx, tx, &paymentdomain.Payment{
		ID:                s.genID.Generate(),
		ExternalInvoiceID: ev.InvoiceID,
		AccountID:         accountID,
		Amount:            ev.AmountPaid,
		Currency:          currency,
		Status:            paymentdomain.StatusPaid,
		RecordedAt:        now,
	})
}

func (s *Service) applyInvoiceFailed(ctx context.Context, tx *gorm.DB, ev billingeventdomain.InvoicePaymentFailed, state *applyState) (billingeventdomain.Outcome, error) {
	sub, err := s.subRepo.FindByCustomerID(ctx, tx, ev.CustomerID, true)
	if err != nil {
		return "", err
	}
	if sub == nil {
		s.log.Warn("failed invoice for unknown customer", zap.String("customer_id", ev.CustomerID), zap.String("invoice_id", ev.InvoiceID))
		return billingeventdomain.OutcomeIgnored, nil
	}

	inserted, err := s.paymentRepo.InsertIfAbsent(ctx, tx, &paymentdomain.Payment{
		ID:                s.genID.Generate(),
		ExternalInvoiceID: ev.InvoiceID,
		AccountID:         sub.AccountID,
		Amount:            ev.AmountDue,
		Currency:          ev.Currency.OrElse(paymentdomain.DefaultCurrency),
		Status:            paymentdomain.StatusFailed,
		RecordedAt:        state.now,
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		return billingeventdomain.OutcomeDuplicate, nil
	}

	sub.Status = subscriptiondomain.StatusPastDue
	sub.UpdatedAt = state.now
	if err := s.subRepo.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	return billingeventdomain.OutcomeApplied, nil
}

func (s *Service) grant(ctx context.Context, tx *gorm.DB, state *applyState, accountID string, amount int64, source ledgerdomain.GrantSource) error {
	if amount <= 0 {
		return nil
	}
	granted, err := s.granter.GrantTx(ctx, tx, accountID, amount, source)
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if granted {
		state.grants = append(state.grants, grantRecord{source: source, amount: amount})
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, env billingeventdomain.Envelope, outcome string) {
	s.obsMetrics.RecordBillingEvent(ctx, env.Provider, env.EventType, outcome)
}

func metricOutcome(outcome billingeventdomain.Outcome) string {
	switch outcome {
	case billingeventdomain.OutcomeDuplicate:
		return obsmetrics.OutcomeDuplicate
	case billingeventdomain.OutcomeIgnored:
		return obsmetrics.OutcomeIgnored
	default:
		return obsmetrics.OutcomeOK
	}
}

func optionalOrExisting(value billingeventdomain.Optional[time.Time], existing *time.Time) *time.Time {
	if v, ok := value.Get(); ok {
		return &v
	}
	return existing
}

func orExisting(value, existing *time.Time) *time.Time {
	if value != nil {
		return value
	}
	return existing
}
