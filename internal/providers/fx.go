package providers

import (
	"github.com/smallbiznis/creditledger/internal/providers/billing"
	"github.com/smallbiznis/creditledger/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	billing.Module,
	pdf.Module,
)
