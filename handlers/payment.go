package handlers

import (
	"errors"
	"net/http"

	"xmr-payment-svc/models"
	"xmr-payment-svc/orders"
	"xmr-payment-svc/poller"
	"xmr-payment-svc/reconcile"
	"xmr-payment-svc/store"
	"xmr-payment-svc/wallet"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	store  *store.Store
	orders *orders.Store
	wallet wallet.Client
	rec    *reconcile.Service
	poller *poller.Poller
	logger *zap.Logger
}

func NewPaymentHandler(
	st *store.Store,
	ord *orders.Store,
	w wallet.Client,
	rec *reconcile.Service,
	p *poller.Poller,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		store:  st,
		orders: ord,
		wallet: w,
		rec:    rec,
		poller: p,
		logger: logger,
	}
}

// CreatePayment opens a payment request for an order. The request amount
// is USD; the stored amount is XMR at the fixed rate. The wallet address
// is acquired before the record is inserted, so the store's critical
// section stays I/O-free.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "CreatePayment")
	defer span.End()

	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Float64("amount.usd", req.Amount),
	)

	if req.OrderID != "" {
		if _, err := h.orders.Get(ctx, req.OrderID); err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
				return
			}
			span.RecordError(err)
			h.logger.Error("Failed to validate order", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	label := "payment"
	if req.OrderID != "" {
		label = "order_" + req.OrderID
	}
	address, err := h.wallet.CreateAddress(ctx, label)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create wallet address", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Wallet service unavailable"})
		return
	}

	payment := h.store.Create(req.OrderID, wallet.USDToXMR(req.Amount), address)
	span.SetAttributes(attribute.String("payment.id", payment.PaymentID))

	if req.OrderID != "" {
		// Linkage on the order row. On failure the payment still exists and
		// the repair sweep restores the link later.
		if err := h.orders.SetPaymentID(ctx, req.OrderID, payment.PaymentID); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to link order to payment",
				zap.String("order_id", req.OrderID),
				zap.String("payment_id", payment.PaymentID),
				zap.Error(err),
			)
		}
	}

	h.logger.Info("Payment created",
		zap.String("payment_id", payment.PaymentID),
		zap.String("order_id", req.OrderID),
		zap.Float64("amount_usd", req.Amount),
		zap.Float64("amount_xmr", payment.Amount),
	)
	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) CheckPayment(c *gin.Context) {
	paymentID := c.Param("payment_id")

	payment, ok := h.store.Get(paymentID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	c.JSON(http.StatusOK, payment)
}

// SubmitProof verifies a client-supplied transaction proof against the
// wallet and confirms the payment on success.
func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "SubmitProof")
	defer span.End()

	paymentID := c.Param("payment_id")
	span.SetAttributes(attribute.String("payment.id", paymentID))

	var req models.SubmitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, ok := h.store.Get(paymentID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}

	verified, err := h.wallet.VerifyTransaction(ctx, req.TxHash, req.TxKey, payment.Address)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Transaction verification failed",
			zap.String("payment_id", paymentID),
			zap.String("tx_hash", req.TxHash),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Wallet service unavailable"})
		return
	}
	if !verified {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transaction proof rejected"})
		return
	}

	result, err := h.rec.Confirm(ctx, paymentID, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrAlreadyExpired):
			c.JSON(http.StatusConflict, gin.H{"error": "Payment already expired"})
		case errors.Is(err, reconcile.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		default:
			span.RecordError(err)
			h.logger.Error("Failed to confirm payment", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// ForceCheck runs an out-of-cycle wallet check for one payment.
func (h *PaymentHandler) ForceCheck(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "ForceCheck")
	defer span.End()

	paymentID := c.Param("payment_id")
	span.SetAttributes(attribute.String("payment.id", paymentID))

	confirmed, err := h.poller.ForceCheck(ctx, paymentID)
	if err != nil {
		if errors.Is(err, reconcile.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Force check failed", zap.String("payment_id", paymentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	payment, _ := h.store.Get(paymentID)
	c.JSON(http.StatusOK, gin.H{
		"confirmed": confirmed,
		"payment":   payment,
	})
}
