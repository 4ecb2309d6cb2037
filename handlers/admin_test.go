package handlers

import (
	"database/sql"
	"net/http"
	"regexp"
	"testing"

	"xmr-payment-svc/models"
	"xmr-payment-svc/reconcile"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestDumpPayments(t *testing.T) {
	env := setupEnv(t)
	env.store.Create("", 0.5, "addr-1")
	env.mock.ExpectQuery(regexp.QuoteMeta(selectOrderByPaymentID)).
		WillReturnError(sql.ErrNoRows)

	w := env.do(t, http.MethodGet, "/admin/payments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success  bool                  `json:"success"`
		Count    int                   `json:"count"`
		Orphans  int                   `json:"orphans"`
		Payments []reconcile.DumpEntry `json:"payments"`
	}
	decode(t, w, &resp)
	if !resp.Success || resp.Count != 1 || len(resp.Payments) != 1 {
		t.Errorf("Unexpected dump response: %+v", resp)
	}
	if resp.Payments[0].Consistent {
		t.Error("Expected orphan entry to be inconsistent")
	}
}

func TestOverridePayment(t *testing.T) {
	env := setupEnv(t)
	p := env.store.Create("", 0.5, "addr-1")

	env.mock.ExpectQuery(regexp.QuoteMeta(selectOrderByPaymentID)).
		WillReturnError(sql.ErrNoRows)

	w := env.do(t, http.MethodPost, "/admin/payments/"+p.PaymentID+"/status/Confirmed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got, _ := env.store.Get(p.PaymentID); got.Status != models.PaymentStatusConfirmed {
		t.Errorf("Expected Confirmed, got %s", got.Status)
	}

	w = env.do(t, http.MethodPost, "/admin/payments/"+p.PaymentID+"/status/Bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid status, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/admin/payments/missing/status/Confirmed", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestForceOrderStatusEndpoint(t *testing.T) {
	env := setupEnv(t)
	p := env.store.Create("ord-1", 0.5, "addr-1")

	env.expectOrderRow("ord-1", p.PaymentID, "pending")
	env.mock.ExpectExec(regexp.QuoteMeta(updateOrderStatus)).
		WithArgs("Completed", "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := env.do(t, http.MethodPost, "/admin/orders/ord-1/status/Completed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got, _ := env.store.Get(p.PaymentID); got.Status != models.PaymentStatusCompleted {
		t.Errorf("Expected payment mirrored to Completed, got %s", got.Status)
	}

	env.mock.ExpectQuery(regexp.QuoteMeta(selectOrderByID)).
		WithArgs("ord-missing").
		WillReturnError(sql.ErrNoRows)
	w = env.do(t, http.MethodPost, "/admin/orders/ord-missing/status/Completed", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRepairEndpoint(t *testing.T) {
	env := setupEnv(t)

	env.mock.ExpectQuery(regexp.QuoteMeta(selectLinked)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_id", "status", "created_at", "updated_at"}))

	w := env.do(t, http.MethodPost, "/admin/repair", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool                   `json:"success"`
		Report  reconcile.RepairReport `json:"report"`
	}
	decode(t, w, &resp)
	if !resp.Success || resp.Report.RepairedLinks != 0 {
		t.Errorf("Unexpected repair response: %+v", resp)
	}
}

func TestForceWalletCheckEndpoint(t *testing.T) {
	env := setupEnv(t)
	p := env.store.Create("ord-1", 0.5, "addr-1")
	env.stub.AddTransfer(models.Transfer{TxHash: "tx-1", Amount: 0.5, Address: "addr-1"})

	env.expectOrderRow("ord-1", p.PaymentID, "pending")
	env.mock.ExpectExec(regexp.QuoteMeta(updateOrderStatus)).
		WithArgs("Confirmed", "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := env.do(t, http.MethodPost, "/admin/check", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got, _ := env.store.Get(p.PaymentID); got.Status != models.PaymentStatusConfirmed {
		t.Errorf("Expected payment Confirmed after manual sweep, got %s", got.Status)
	}
}
