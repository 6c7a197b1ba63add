package plan

import (
	"context"

	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"github.com/smallbiznis/creditledger/internal/plan/repository"
	"github.com/smallbiznis/creditledger/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(func(lc fx.Lifecycle, svc plandomain.Service) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return svc.Seed(ctx)
			},
		})
	}),
)
