package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/xKodda/realcars-payments/app/factory"
	"github.com/xKodda/realcars-payments/app/gateway"
	"github.com/xKodda/realcars-payments/app/mapper"
	"github.com/xKodda/realcars-payments/app/service"
	"github.com/xKodda/realcars-payments/app/types"
)

type OrderController struct {
	orderService *service.OrderService
	logger       logrus.FieldLogger
}

func NewOrderController(orderService *service.OrderService) *OrderController {
	return &OrderController{
		orderService: orderService,
		logger:       factory.NewModuleLogger("orders-controller"),
	}
}

func (c *OrderController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *OrderController) CreateOrder(ctx echo.Context) error {
	req, err := types.NewCreateOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	order, record, err := c.orderService.CreateOrder(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, gateway.ErrRejected):
			return c.writeError(ctx, http.StatusUnprocessableEntity, "payment gateway rejected the order")
		case errors.Is(err, gateway.ErrUnavailable):
			return c.writeError(ctx, http.StatusServiceUnavailable, "payment gateway is unavailable, try again later")
		default:
			c.logger.WithError(err).Error("Create order failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.CheckoutResponse{
		Order:      mapper.OrderToResponse(order),
		PaymentURL: record.PaymentURL,
	})
}

func (c *OrderController) GetOrder(ctx echo.Context) error {
	req, err := types.NewGetOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	order, err := c.orderService.GetOrder(ctx.Request().Context(), req.PublicID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		}
		c.logger.WithError(err).Error("Get order failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(order)})
}

func (c *OrderController) RetryPayment(ctx echo.Context) error {
	req, err := types.NewRetryPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	order, record, err := c.orderService.RetryPayment(ctx.Request().Context(), req.PublicID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrOrderNotPending):
			return c.writeError(ctx, http.StatusConflict, "order is no longer pending")
		case errors.Is(err, gateway.ErrRejected):
			return c.writeError(ctx, http.StatusUnprocessableEntity, "payment gateway rejected the order")
		case errors.Is(err, gateway.ErrUnavailable):
			return c.writeError(ctx, http.StatusServiceUnavailable, "payment gateway is unavailable, try again later")
		default:
			c.logger.WithError(err).Error("Retry payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.CheckoutResponse{
		Order:      mapper.OrderToResponse(order),
		PaymentURL: record.PaymentURL,
	})
}

// HandlePaymentNotice is the gateway webhook endpoint. Per the gateway
// contract it answers 200 for every acknowledged delivery (including
// duplicates and unknown tokens), 400 for a missing token, and 401
// when the signature does not verify.
func (c *OrderController) HandlePaymentNotice(ctx echo.Context) error {
	req, err := types.NewPaymentNoticeRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.orderService.HandlePaymentNotice(ctx.Request().Context(), req); err != nil {
		switch {
		case errors.Is(err, service.ErrNoticeRejected):
			return c.writeError(ctx, http.StatusUnauthorized, "invalid notice signature")
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Handle payment notice failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "notice acknowledged"})
}

func (c *OrderController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
