package providers

import (
	"github.com/smallbiznis/callsight/internal/providers/email"
	"github.com/smallbiznis/callsight/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
