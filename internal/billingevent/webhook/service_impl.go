package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/creditledger/internal/billingevent/adapters"
	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Adapters   *adapters.Registry
	Repo       billingeventdomain.Repository
	Reconciler billingeventdomain.Reconciler
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	adapters   *adapters.Registry
	repo       billingeventdomain.Repository
	reconciler billingeventdomain.Reconciler
}

func NewService(p Params) billingeventdomain.Ingress {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billingevent.webhook"),
		clock:      p.Clock,
		adapters:   p.Adapters,
		repo:       p.Repo,
		reconciler: p.Reconciler,
	}
}

// HandleProviderEvent authenticates a delivery, decodes it and hands it to the
// reconciler. Duplicates and events that change nothing are still acknowledged.
func (s *Service) HandleProviderEvent(ctx context.Context, provider string, payload []byte, headers http.Header) (billingeventdomain.Receipt, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return billingeventdomain.Receipt{}, billingeventdomain.ErrInvalidProvider
	}
	if !s.adapters.ProviderExists(provider) {
		return billingeventdomain.Receipt{}, billingeventdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return billingeventdomain.Receipt{}, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("rejected webhook delivery", zap.String("provider", provider), zap.Error(err))
		return billingeventdomain.Receipt{}, err
	}

	env, err := adapter.Parse(ctx, payload)
	if err != nil {
		return billingeventdomain.Receipt{}, err
	}
	env.Provider = provider

	if _, err := s.reconciler.Process(ctx, *env); err != nil {
		return billingeventdomain.Receipt{}, err
	}
	return billingeventdomain.Receipt{Received: true}, nil
}

// ReplayPending re-runs inbox rows older than olderThan that never reached
// processed. Each row is independent; failures are collected and returned.
func (s *Service) ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.clock.Now().Add(-olderThan)
	records, err := s.repo.ListPending(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, err
	}

	log := obslogger.WithContext(ctx, s.log)
	var errs []error
	replayed := 0
	for _, record := range records {
		adapter, err := s.adapters.Adapter(record.Provider)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", record.Provider, record.ProviderEventID, err))
			continue
		}
		env, err := adapter.Parse(ctx, record.Payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", record.Provider, record.ProviderEventID, err))
			continue
		}
		env.Provider = record.Provider
		if _, err := s.reconciler.Process(ctx, *env); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", record.Provider, record.ProviderEventID, err))
			continue
		}
		replayed++
	}

	log.Info("replayed pending billing events",
		zap.Int("pending", len(records)),
		zap.Int("replayed", replayed),
		zap.Int("failed", len(errs)),
	)
	return replayed, errors.Join(errs...)
}
