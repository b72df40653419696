package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditrepo "github.com/smallbiznis/callsight/internal/audit/repository"
	auditservice "github.com/smallbiznis/callsight/internal/audit/service"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	invoicedomain "github.com/smallbiznis/callsight/internal/invoice/domain"
	"github.com/smallbiznis/callsight/internal/invoice/render"
	invoiceservice "github.com/smallbiznis/callsight/internal/invoice/service"
	ledgerrepo "github.com/smallbiznis/callsight/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/callsight/internal/ledger/service"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	orgrepo "github.com/smallbiznis/callsight/internal/organization/repository"
	orgservice "github.com/smallbiznis/callsight/internal/organization/service"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/smallbiznis/callsight/internal/payment/gateway/razorpay"
	"github.com/smallbiznis/callsight/internal/payment/repository"
	"github.com/smallbiznis/callsight/internal/providers/email"
	"github.com/smallbiznis/callsight/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testKeySecret = "rzp_test_secret"

// -- Mocks --

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) KeyID() string { return "rzp_test_key" }

func (m *gatewayMock) CreateOrder(ctx context.Context, req paymentdomain.CreateGatewayOrder) (*paymentdomain.GatewayOrder, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*paymentdomain.GatewayOrder), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *gatewayMock) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.GatewayPayment, error) {
	args := m.Called(ctx, paymentID)
	if res := args.Get(0); res != nil {
		return res.(*paymentdomain.GatewayPayment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *gatewayMock) FetchOrder(ctx context.Context, orderID string) (*paymentdomain.GatewayOrder, error) {
	args := m.Called(ctx, orderID)
	if res := args.Get(0); res != nil {
		return res.(*paymentdomain.GatewayOrder), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	svc     *Service
	db      *gorm.DB
	gateway *gatewayMock
	clock   *clock.FakeClock
	orgID   snowflake.ID
	userID  string
}

func setup(t *testing.T, tier string) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	fake := clock.NewFakeClock(time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	plans := config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog())

	orgSvc := orgservice.NewService(orgservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Plans: plans, Repo: orgrepo.Provide(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: ledgerrepo.Provide(),
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: auditrepo.Provide(),
	})
	gw := &gatewayMock{}

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Cfg:        config.Config{Gateway: config.GatewayConfig{KeySecret: testKeySecret}},
		Plans:      plans,
		Gateway:    gw,
		Repo:       repository.Provide(),
		LedgerSvc:  ledgerSvc,
		OrgSvc:     orgSvc,
		InvoiceSvc: invoiceservice.NewService(invoiceservice.Params{Log: log, Plans: plans}),
		Renderer:   render.NewRenderer(),
		Email:      &email.NoOpProvider{},
		AuditSvc:   auditSvc,
	})

	orgID := node.Generate()
	dbtest.SeedOrganization(t, db, orgID, tier, 0, fake.Now())
	dbtest.SeedMember(t, db, node.Generate(), orgID, "user_1", "owner@acme.test", string(orgdomain.RoleOwner))

	return &fixture{svc: svc, db: db, gateway: gw, clock: fake, orgID: orgID, userID: "user_1"}
}

func (f *fixture) stubCreditsPayment(orderID, paymentID string, amount int64, credits string) {
	f.gateway.On("FetchPayment", mock.Anything, paymentID).Return(&paymentdomain.GatewayPayment{
		ID:       paymentID,
		OrderID:  orderID,
		Status:   "captured",
		Amount:   amount,
		Currency: "INR",
		Email:    "owner@acme.test",
		Method:   "upi",
	}, nil)
	f.gateway.On("FetchOrder", mock.Anything, orderID).Return(&paymentdomain.GatewayOrder{
		ID:       orderID,
		Amount:   amount,
		Currency: "INR",
		Status:   "paid",
		Notes: paymentdomain.Notes{
			paymentdomain.NoteType:           string(paymentdomain.KindCredits),
			paymentdomain.NoteCredits:        credits,
			paymentdomain.NoteOrganizationID: f.orgID.String(),
			paymentdomain.NoteUserID:         f.userID,
		},
	}, nil)
}

func (f *fixture) clientVerify(orderID, paymentID string) paymentdomain.VerifyRequest {
	return paymentdomain.VerifyRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: razorpay.Signature(testKeySecret, orderID+"|"+paymentID),
		Source:    paymentdomain.SourceClient,
		UserID:    f.userID,
	}
}

func TestCreateOrderCredits(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.gateway.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req paymentdomain.CreateGatewayOrder) bool {
		return req.Amount == 22500 &&
			req.Currency == "INR" &&
			req.Notes[paymentdomain.NoteCredits] == "50" &&
			req.Notes[paymentdomain.NoteOrganizationID] == f.orgID.String()
	})).Return(&paymentdomain.GatewayOrder{ID: "order_A1", Amount: 22500, Currency: "INR"}, nil).Once()

	order, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		OrgID:    f.orgID,
		UserID:   f.userID,
		Kind:     paymentdomain.KindCredits,
		Amount:   decimal.NewFromInt(225),
		Currency: "inr",
		Credits:  50,
	})
	require.NoError(t, err)
	assert.Equal(t, "order_A1", order.OrderID)
	assert.Equal(t, int64(22500), order.Amount)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "rzp_test_key", order.GatewayKey)
	assert.Contains(t, order.Receipt, "rcpt_")
	f.gateway.AssertExpectations(t)
}

func TestCreateOrderRejectsBeforeCallingGateway(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	ctx := context.Background()

	cases := []struct {
		name string
		req  paymentdomain.CreateOrderRequest
		want error
	}{
		{
			name: "below minimum",
			req:  paymentdomain.CreateOrderRequest{Kind: paymentdomain.KindCredits, Amount: decimal.RequireFromString("0.50"), Currency: "INR", Credits: 1},
			want: paymentdomain.ErrAmountBelowMinimum,
		},
		{
			name: "unsupported currency",
			req:  paymentdomain.CreateOrderRequest{Kind: paymentdomain.KindCredits, Amount: decimal.NewFromInt(10), Currency: "EUR", Credits: 1},
			want: paymentdomain.ErrUnsupportedCurrency,
		},
		{
			name: "zero credits",
			req:  paymentdomain.CreateOrderRequest{Kind: paymentdomain.KindCredits, Amount: decimal.NewFromInt(10), Currency: "INR"},
			want: paymentdomain.ErrInvalidCredits,
		},
		{
			name: "credits priced below catalog",
			req:  paymentdomain.CreateOrderRequest{Kind: paymentdomain.KindCredits, Amount: decimal.NewFromInt(1), Currency: "INR", Credits: 1_000_000},
			want: paymentdomain.ErrInvalidAmount,
		},
		{
			name: "credits priced above catalog",
			req:  paymentdomain.CreateOrderRequest{Kind: paymentdomain.KindCredits, Amount: decimal.NewFromInt(300), Currency: "INR", Credits: 50},
			want: paymentdomain.ErrInvalidAmount,
		},
		{
			name: "free tier is not purchasable",
			req:  paymentdomain.CreateOrderRequest{Kind: paymentdomain.KindSubscription, Amount: decimal.NewFromInt(10), Currency: "INR", Tier: "free"},
			want: paymentdomain.ErrInvalidTier,
		},
		{
			name: "subscription price mismatch",
			req:  paymentdomain.CreateOrderRequest{Kind: paymentdomain.KindSubscription, Amount: decimal.NewFromInt(10), Currency: "INR", Tier: "team"},
			want: paymentdomain.ErrInvalidAmount,
		},
		{
			name: "unknown kind",
			req:  paymentdomain.CreateOrderRequest{Kind: "gift", Amount: decimal.NewFromInt(10), Currency: "INR"},
			want: paymentdomain.ErrInvalidKind,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			req.OrgID = f.orgID
			req.UserID = f.userID
			_, err := f.svc.CreateOrder(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	f.gateway.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestCreateOrderCreditsInUSD(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.gateway.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req paymentdomain.CreateGatewayOrder) bool {
		return req.Amount == 300 && req.Currency == "USD" && req.Notes[paymentdomain.NoteCredits] == "50"
	})).Return(&paymentdomain.GatewayOrder{ID: "order_U1", Amount: 300, Currency: "USD"}, nil).Once()

	_, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		OrgID:    f.orgID,
		UserID:   f.userID,
		Kind:     paymentdomain.KindCredits,
		Amount:   decimal.RequireFromString("3.00"),
		Currency: "USD",
		Credits:  50,
	})
	require.NoError(t, err)
	f.gateway.AssertExpectations(t)
}

func TestCreateOrderRequiresMembership(t *testing.T) {
	f := setup(t, "pay_as_you_go")

	_, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		OrgID:    f.orgID,
		UserID:   "stranger",
		Kind:     paymentdomain.KindCredits,
		Amount:   decimal.NewFromInt(45),
		Currency: "INR",
		Credits:  10,
	})
	assert.ErrorIs(t, err, orgdomain.ErrNotMember)
	f.gateway.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestCreateOrderAnnualSubscriptionPrice(t *testing.T) {
	f := setup(t, "free")
	f.gateway.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req paymentdomain.CreateGatewayOrder) bool {
		return req.Amount == 4799040 && req.Notes[paymentdomain.NoteBillingCycle] == "annual"
	})).Return(&paymentdomain.GatewayOrder{ID: "order_S1"}, nil).Once()

	_, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		OrgID:        f.orgID,
		UserID:       f.userID,
		Kind:         paymentdomain.KindSubscription,
		Amount:       decimal.RequireFromString("47990.40"),
		Currency:     "INR",
		Tier:         "team",
		BillingCycle: "annual",
	})
	require.NoError(t, err)
	f.gateway.AssertExpectations(t)
}

func TestCreateOrderWrapsGatewayFailure(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.gateway.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Once()

	_, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		OrgID:    f.orgID,
		UserID:   f.userID,
		Kind:     paymentdomain.KindCredits,
		Amount:   decimal.NewFromInt(45),
		Currency: "INR",
		Credits:  10,
	})
	var gwErr *paymentdomain.GatewayError
	require.ErrorAs(t, err, &gwErr)
}

func TestVerifyAndCreditPurchasesCredits(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")

	res, err := f.svc.VerifyAndCredit(context.Background(), f.clientVerify("order_A1", "pay_AAAA0001"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, int64(50), res.Credits)
	assert.Equal(t, int64(50), res.NewBalance)
	assert.Equal(t, "INV-202506-AAAA0001", res.InvoiceNumber)

	receipt, err := f.svc.GetReceipt(context.Background(), f.orgID, "pay_AAAA0001")
	require.NoError(t, err)
	assert.Equal(t, int64(22500), receipt.Amount)
	assert.Equal(t, paymentdomain.ReceiptStatusCompleted, receipt.Status)
	require.NotNil(t, receipt.CreditTransactionID)
	assert.Equal(t, res.TransactionID, *receipt.CreditTransactionID)

	var invoice invoicedomain.InvoiceData
	require.NoError(t, json.Unmarshal(receipt.InvoiceData, &invoice))
	assert.Equal(t, "266.00", invoice.Total)
	assert.Equal(t, int64(26600), invoice.TotalMinor)

	assert.Equal(t, int64(50), dbtest.Count(t, f.db, "SELECT credits FROM credit_transactions WHERE idempotency_key = ?", "pay_AAAA0001"))
	assert.Equal(t, int64(50), dbtest.Count(t, f.db, "SELECT credits_balance FROM organizations WHERE id = ?", f.orgID))
}

func TestVerifyAndCreditIsIdempotent(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")
	ctx := context.Background()

	first, err := f.svc.VerifyAndCredit(ctx, f.clientVerify("order_A1", "pay_AAAA0001"))
	require.NoError(t, err)

	second, err := f.svc.VerifyAndCredit(ctx, paymentdomain.VerifyRequest{
		OrderID:   "order_A1",
		PaymentID: "pay_AAAA0001",
		Source:    paymentdomain.SourceWebhook,
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM credit_transactions"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM payment_receipts"))
	assert.Equal(t, int64(50), dbtest.Count(t, f.db, "SELECT credits_balance FROM organizations WHERE id = ?", f.orgID))
}

func TestVerifyAndCreditConcurrentCallersCreditOnce(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := f.clientVerify("order_A1", "pay_AAAA0001")
			if i%2 == 1 {
				req = paymentdomain.VerifyRequest{OrderID: "order_A1", PaymentID: "pay_AAAA0001", Source: paymentdomain.SourceWebhook}
			}
			_, err := f.svc.VerifyAndCredit(ctx, req)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM credit_transactions"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM payment_receipts"))
	assert.Equal(t, int64(50), dbtest.Count(t, f.db, "SELECT credits_balance FROM organizations WHERE id = ?", f.orgID))
}

func TestVerifyAndCreditRejectsTamperedSignature(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	req := f.clientVerify("order_A1", "pay_AAAA0001")
	req.Signature = razorpay.Signature("wrong-secret", "order_A1|pay_AAAA0001")

	_, err := f.svc.VerifyAndCredit(context.Background(), req)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	f.gateway.AssertNotCalled(t, "FetchPayment", mock.Anything, mock.Anything)
	assert.Equal(t, int64(0), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM credit_transactions"))
	assert.Equal(t, int64(0), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM payment_receipts"))
}

func TestVerifyAndCreditRejectsPaymentFromAnotherOrder(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.gateway.On("FetchPayment", mock.Anything, "pay_AAAA0001").Return(&paymentdomain.GatewayPayment{
		ID: "pay_AAAA0001", OrderID: "order_OTHER", Status: "captured", Amount: 22500, Currency: "INR",
	}, nil)

	_, err := f.svc.VerifyAndCredit(context.Background(), f.clientVerify("order_A1", "pay_AAAA0001"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Equal(t, int64(0), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM payment_receipts"))
}

func TestVerifyAndCreditRequiresCapture(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.gateway.On("FetchPayment", mock.Anything, "pay_AAAA0001").Return(&paymentdomain.GatewayPayment{
		ID: "pay_AAAA0001", OrderID: "order_A1", Status: "failed", Amount: 22500, Currency: "INR",
	}, nil)

	_, err := f.svc.VerifyAndCredit(context.Background(), f.clientVerify("order_A1", "pay_AAAA0001"))
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotCaptured)
	f.gateway.AssertNotCalled(t, "FetchOrder", mock.Anything, mock.Anything)
}

func TestVerifyAndCreditUnknownPaymentIsIntegrityFailure(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.gateway.On("FetchPayment", mock.Anything, "pay_AAAA0001").Return(nil, paymentdomain.ErrGatewayNotFound)

	_, err := f.svc.VerifyAndCredit(context.Background(), f.clientVerify("order_A1", "pay_AAAA0001"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyAndCreditUsesOrderCredits(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")
	req := f.clientVerify("order_A1", "pay_AAAA0001")
	req.Credits = 5000

	res, err := f.svc.VerifyAndCredit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.NewBalance)
}

func TestVerifyAndCreditRejectsBrokenNotes(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.gateway.On("FetchPayment", mock.Anything, "pay_AAAA0001").Return(&paymentdomain.GatewayPayment{
		ID: "pay_AAAA0001", OrderID: "order_A1", Status: "captured", Amount: 22500, Currency: "INR",
	}, nil)
	f.gateway.On("FetchOrder", mock.Anything, "order_A1").Return(&paymentdomain.GatewayOrder{
		ID:    "order_A1",
		Notes: paymentdomain.Notes{paymentdomain.NoteType: "credits", paymentdomain.NoteOrganizationID: f.orgID.String()},
	}, nil)

	_, err := f.svc.VerifyAndCredit(context.Background(), f.clientVerify("order_A1", "pay_AAAA0001"))
	assert.ErrorIs(t, err, paymentdomain.ErrOrderMismatch)
	assert.Equal(t, int64(0), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM credit_transactions"))
}

func TestVerifyAndCreditClientMustBeMember(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")
	req := f.clientVerify("order_A1", "pay_AAAA0001")
	req.UserID = "stranger"

	_, err := f.svc.VerifyAndCredit(context.Background(), req)
	assert.ErrorIs(t, err, orgdomain.ErrNotMember)
	assert.Equal(t, int64(0), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM payment_receipts"))
}

func TestVerifyAndCreditAdminReconcileIsScopedToOrganization(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")

	_, err := f.svc.VerifyAndCredit(context.Background(), paymentdomain.VerifyRequest{
		OrderID:   "order_A1",
		PaymentID: "pay_AAAA0001",
		Source:    paymentdomain.SourceAdmin,
		OrgID:     f.orgID + 1,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrOrderMismatch)

	res, err := f.svc.VerifyAndCredit(context.Background(), paymentdomain.VerifyRequest{
		OrderID:   "order_A1",
		PaymentID: "pay_AAAA0001",
		Source:    paymentdomain.SourceAdmin,
		OrgID:     f.orgID,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(50), dbtest.Count(t, f.db, "SELECT credits_balance FROM organizations WHERE id = ?", f.orgID))
}

func TestVerifyAndCreditAppliesSubscription(t *testing.T) {
	f := setup(t, "free")
	f.gateway.On("FetchPayment", mock.Anything, "pay_SUBS0001").Return(&paymentdomain.GatewayPayment{
		ID: "pay_SUBS0001", OrderID: "order_S1", Status: "captured", Amount: 499900, Currency: "INR", Email: "owner@acme.test",
	}, nil)
	f.gateway.On("FetchOrder", mock.Anything, "order_S1").Return(&paymentdomain.GatewayOrder{
		ID: "order_S1",
		Notes: paymentdomain.Notes{
			paymentdomain.NoteType:           string(paymentdomain.KindSubscription),
			paymentdomain.NoteTier:           "team",
			paymentdomain.NoteBillingCycle:   "monthly",
			paymentdomain.NoteOrganizationID: f.orgID.String(),
			paymentdomain.NoteUserID:         f.userID,
		},
	}, nil)
	ctx := context.Background()

	res, err := f.svc.VerifyAndCredit(ctx, f.clientVerify("order_S1", "pay_SUBS0001"))
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)

	var tier string
	require.NoError(t, f.db.Raw("SELECT subscription_tier FROM organizations WHERE id = ?", f.orgID).Scan(&tier).Error)
	assert.Equal(t, "team", tier)
	assert.Equal(t, int64(500), dbtest.Count(t, f.db, "SELECT calls_limit FROM organizations WHERE id = ?", f.orgID))
	assert.Equal(t, int64(0), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM credit_transactions"))

	again, err := f.svc.VerifyAndCredit(ctx, paymentdomain.VerifyRequest{OrderID: "order_S1", PaymentID: "pay_SUBS0001", Source: paymentdomain.SourceWebhook})
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM payment_receipts"))
}

func TestVerifyAndCreditKeepsLedgerReconciled(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")
	f.stubCreditsPayment("order_A2", "pay_AAAA0002", 9000, "20")
	ctx := context.Background()

	_, err := f.svc.VerifyAndCredit(ctx, f.clientVerify("order_A1", "pay_AAAA0001"))
	require.NoError(t, err)
	res, err := f.svc.VerifyAndCredit(ctx, f.clientVerify("order_A2", "pay_AAAA0002"))
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.NewBalance)

	report, err := f.svc.ledgerSvc.Reconcile(ctx, f.orgID)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, int64(70), report.Balance)
}

func TestGetReceiptIsScopedToOrganization(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	f.stubCreditsPayment("order_A1", "pay_AAAA0001", 22500, "50")
	ctx := context.Background()

	_, err := f.svc.VerifyAndCredit(ctx, f.clientVerify("order_A1", "pay_AAAA0001"))
	require.NoError(t, err)

	_, err = f.svc.GetReceipt(ctx, f.orgID+1, "pay_AAAA0001")
	assert.ErrorIs(t, err, paymentdomain.ErrReceiptNotFound)
	_, err = f.svc.GetReceipt(ctx, f.orgID, "pay_missing")
	assert.ErrorIs(t, err, paymentdomain.ErrReceiptNotFound)
}

func TestVerifyAndCreditValidatesRequest(t *testing.T) {
	f := setup(t, "pay_as_you_go")
	_, err := f.svc.VerifyAndCredit(context.Background(), paymentdomain.VerifyRequest{PaymentID: "pay_1", Source: paymentdomain.SourceClient})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRequest)
	_, err = f.svc.VerifyAndCredit(context.Background(), paymentdomain.VerifyRequest{OrderID: "o", PaymentID: "p", Source: "cron"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRequest)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(22500), paymentdomain.ToMinorUnits(decimal.NewFromInt(225)))
	assert.Equal(t, int64(1999), paymentdomain.ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), paymentdomain.ToMinorUnits(decimal.RequireFromString("9.995")))
}
