package invoice

import (
	"github.com/smallbiznis/callsight/internal/invoice/render"
	"github.com/smallbiznis/callsight/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(service.NewService),
	fx.Provide(render.NewRenderer),
)
