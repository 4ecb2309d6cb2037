package handlers

import (
	"errors"
	"net/http"

	"xmr-payment-svc/models"
	"xmr-payment-svc/orders"
	"xmr-payment-svc/poller"
	"xmr-payment-svc/reconcile"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// AdminHandler exposes the maintenance surface: the diagnostic dump, the
// repair sweep, and the audited status overrides. Everything here is a
// thin caller of the reconciliation service.
type AdminHandler struct {
	rec    *reconcile.Service
	poller *poller.Poller
	logger *zap.Logger
}

func NewAdminHandler(rec *reconcile.Service, p *poller.Poller, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{rec: rec, poller: p, logger: logger}
}

// DumpPayments returns the raw payment cache with each record's order row
// so cache/table divergence is directly visible.
func (h *AdminHandler) DumpPayments(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "DumpPayments")
	defer span.End()

	entries := h.rec.Dump(ctx)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"count":    len(entries),
		"orphans":  h.rec.OrphanCount(),
		"payments": entries,
	})
}

// OverridePayment force-sets a payment's status outside the normal state
// machine.
func (h *AdminHandler) OverridePayment(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "OverridePayment")
	defer span.End()

	paymentID := c.Param("payment_id")
	status := models.PaymentStatus(c.Param("status"))

	result, err := h.rec.Override(ctx, paymentID, status)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status: " + string(status)})
		case errors.Is(err, reconcile.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		default:
			span.RecordError(err)
			h.logger.Error("Payment override failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment status manually overridden",
		"result":  result,
	})
}

// Repair runs the idempotent reconciliation sweep.
func (h *AdminHandler) Repair(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "Repair")
	defer span.End()

	report, err := h.rec.RepairAll(ctx)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Repair sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// ForceOrderStatus force-sets an order's status and mirrors it onto the
// linked payment.
func (h *AdminHandler) ForceOrderStatus(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "ForceOrderStatus")
	defer span.End()

	orderID := c.Param("order_id")
	status := c.Param("status")

	order, err := h.rec.ForceOrderStatus(ctx, orderID, status)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Order status override failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// ForceWalletCheck triggers one full poll cycle outside the schedule.
func (h *AdminHandler) ForceWalletCheck(c *gin.Context) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(c.Request.Context(), "ForceWalletCheck")
	defer span.End()

	h.logger.Warn("ADMIN ACTION: manual wallet check triggered")
	h.poller.CheckOnce(ctx)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Wallet check triggered"})
}
