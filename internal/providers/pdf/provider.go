package pdf

import (
	"context"

	invoicedomain "github.com/smallbiznis/callsight/internal/invoice/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(func() Provider { return NewPDFProvider() }),
)

type Provider interface {
	GenerateReceipt(ctx context.Context, data invoicedomain.InvoiceData) ([]byte, error)
}

type PDFProvider struct{}

func NewPDFProvider() *PDFProvider {
	return &PDFProvider{}
}
