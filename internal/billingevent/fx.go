package billingevent

import (
	"github.com/smallbiznis/creditledger/internal/billingevent/adapters"
	"github.com/smallbiznis/creditledger/internal/billingevent/adapters/stripe"
	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	"github.com/smallbiznis/creditledger/internal/billingevent/repository"
	"github.com/smallbiznis/creditledger/internal/billingevent/service"
	"github.com/smallbiznis/creditledger/internal/billingevent/webhook"
	"github.com/smallbiznis/creditledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory()).
			Configure(stripe.ProviderName, billingeventdomain.AdapterConfig{
				WebhookSecret: cfg.Stripe.WebhookSecret,
			})
	}),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
