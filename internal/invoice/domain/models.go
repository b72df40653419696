package domain

import (
	"time"
)

type Kind string

const (
	KindCredits      Kind = "credits"
	KindSubscription Kind = "subscription"
)

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	OrgName string `json:"orgName"`
}

type GenerateRequest struct {
	Kind Kind
	// AmountBase is the pre-tax amount charged, in minor units.
	AmountBase   int64
	Currency     string
	PaymentID    string
	Customer     Customer
	Credits      int64
	Tier         string
	BillingCycle string
	IssuedAt     time.Time
}

type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Amount      string `json:"amount"`
}

type TaxComponent struct {
	Name   string `json:"name"`
	Rate   string `json:"rate"`
	Amount string `json:"amount"`
}

type TaxBreakdown struct {
	Name       string         `json:"name"`
	Rate       string         `json:"rate"`
	Taxable    string         `json:"taxable"`
	Components []TaxComponent `json:"components"`
}

// InvoiceData is the frozen invoice snapshot stored on a receipt. Amounts are
// major-unit decimal strings with two places.
type InvoiceData struct {
	InvoiceNumber string        `json:"invoiceNumber"`
	IssuedAt      time.Time     `json:"issuedAt"`
	Kind          Kind          `json:"kind"`
	PaymentID     string        `json:"paymentId"`
	Currency      string        `json:"currency"`
	Customer      Customer      `json:"customer"`
	Items         []LineItem    `json:"items"`
	Subtotal      string        `json:"subtotal"`
	Discount      string        `json:"discount"`
	Tax           string        `json:"tax"`
	Total         string        `json:"total"`
	TotalMinor    int64         `json:"totalMinor"`
	TaxBreakdown  *TaxBreakdown `json:"taxBreakdown,omitempty"`
	Credits       int64         `json:"credits,omitempty"`
	Tier          string        `json:"tier,omitempty"`
	BillingCycle  string        `json:"billingCycle,omitempty"`
}
