package payment

import (
	"github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/smallbiznis/callsight/internal/payment/gateway/razorpay"
	"github.com/smallbiznis/callsight/internal/payment/repository"
	"github.com/smallbiznis/callsight/internal/payment/service"
	"github.com/smallbiznis/callsight/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(razorpay.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.OrderService { return s }),
	fx.Provide(func(s *service.Service) domain.VerificationService { return s }),
	fx.Provide(webhook.NewService),
)
