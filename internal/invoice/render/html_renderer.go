package render

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/smallbiznis/callsight/internal/invoice/domain"
)

// Renderer turns a frozen invoice snapshot into the HTML body of the receipt
// email.
type Renderer interface {
	RenderReceiptHTML(data domain.InvoiceData) (string, error)
}

const receiptHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Receipt {{.InvoiceNumber}}</title>
  <style>
    body { margin: 0; padding: 32px; font-family: -apple-system, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .card { background: #ffffff; max-width: 640px; margin: 0 auto; padding: 40px; border-radius: 4px; }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; font-weight: 600; }
    .value { font-size: 14px; line-height: 1.5; }
    table { width: 100%; border-collapse: collapse; margin: 24px 0; }
    th { text-align: left; font-size: 11px; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 8px 0; }
    td { padding: 12px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; }
    .right { text-align: right; }
    .total { font-weight: 700; font-size: 16px; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Payment receipt</h1>
    <div class="label">Invoice number</div>
    <div class="value">{{.InvoiceNumber}}</div>
    <div class="label" style="margin-top: 12px;">Date</div>
    <div class="value">{{formatDate .IssuedAt}}</div>
    <div class="label" style="margin-top: 12px;">Billed to</div>
    <div class="value">{{.Customer.Name}}{{if .Customer.OrgName}} ({{.Customer.OrgName}}){{end}}<br>{{.Customer.Email}}</div>

    <table>
      <thead>
        <tr><th>Description</th><th class="right">Qty</th><th class="right">Amount</th></tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr><td>{{.Description}}</td><td class="right">{{.Quantity}}</td><td class="right">{{$.Currency}} {{.Amount}}</td></tr>
        {{end}}
        <tr><td colspan="2">Subtotal</td><td class="right">{{.Currency}} {{.Subtotal}}</td></tr>
        {{if ne .Discount "0.00"}}<tr><td colspan="2">Annual discount</td><td class="right">- {{.Currency}} {{.Discount}}</td></tr>{{end}}
        {{with .TaxBreakdown}}{{range .Components}}
        <tr><td colspan="2">{{.Name}} ({{.Rate}}%)</td><td class="right">{{$.Currency}} {{.Amount}}</td></tr>
        {{end}}{{end}}
        <tr class="total"><td colspan="2">Total paid</td><td class="right">{{.Currency}} {{.Total}}</td></tr>
      </tbody>
    </table>
    <div class="value" style="color: #8792a2;">Payment reference {{.PaymentID}}</div>
  </div>
</body>
</html>
`

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatDate": formatDate,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("receipt").Funcs(funcs).Parse(receiptHTMLTemplate)),
	}
}

func (r *HTMLRenderer) RenderReceiptHTML(data domain.InvoiceData) (string, error) {
	data.Currency = strings.ToUpper(strings.TrimSpace(data.Currency))

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("02 Jan 2006")
}
