package poller

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"xmr-payment-svc/models"
	"xmr-payment-svc/orders"
	"xmr-payment-svc/reconcile"
	"xmr-payment-svc/store"
	"xmr-payment-svc/wallet"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

const (
	selectOrderByID   = `SELECT id, COALESCE(payment_id, ''), status, created_at, updated_at FROM orders WHERE id = $1`
	updateOrderStatus = `UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
)

type notification struct {
	orderID string
	status  models.PaymentStatus
}

type fakeNotifier struct {
	published []notification
}

func (f *fakeNotifier) Publish(orderID string, status models.PaymentStatus) {
	f.published = append(f.published, notification{orderID, status})
}

func setupPoller(t *testing.T) (*Poller, *store.Store, *wallet.Stub, sqlmock.Sqlmock, *fakeNotifier) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	st := store.New()
	stub := wallet.NewStub()
	notifier := &fakeNotifier{}
	rec := reconcile.NewService(st, orders.New(db, logger), notifier, nil, logger)
	return New(st, stub, rec, logger), st, stub, mock, notifier
}

func expectOrderConfirmed(mock sqlmock.Sqlmock, orderID, paymentID string) {
	mock.ExpectQuery(regexp.QuoteMeta(selectOrderByID)).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_id", "status", "created_at", "updated_at"}).
			AddRow(orderID, paymentID, "pending", time.Now(), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(updateOrderStatus)).
		WithArgs("Confirmed", orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCheckOnceConfirmsMatchedPayment(t *testing.T) {
	p, st, stub, mock, notifier := setupPoller(t)

	payment := st.Create("ord-1", 0.5, "addr-1")
	stub.AddTransfer(models.Transfer{TxHash: "tx-1", Amount: 0.5, Address: "addr-1"})
	expectOrderConfirmed(mock, "ord-1", payment.PaymentID)

	p.CheckOnce(context.Background())

	got, _ := st.Get(payment.PaymentID)
	if got.Status != models.PaymentStatusConfirmed {
		t.Fatalf("Expected payment Confirmed, got %s", got.Status)
	}

	// Second cycle over the same transfer set must not confirm again.
	p.CheckOnce(context.Background())

	if len(notifier.published) != 1 {
		t.Errorf("Expected exactly one notification across two cycles, got %d", len(notifier.published))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCheckOnceMatchesWithinTolerance(t *testing.T) {
	p, st, stub, mock, _ := setupPoller(t)

	payment := st.Create("ord-1", 0.3333, "addr-1")
	// A hair under the requested amount, well inside the tolerance.
	stub.AddTransfer(models.Transfer{TxHash: "tx-1", Amount: 0.333299, Address: "addr-1"})
	expectOrderConfirmed(mock, "ord-1", payment.PaymentID)

	p.CheckOnce(context.Background())

	if got, _ := st.Get(payment.PaymentID); got.Status != models.PaymentStatusConfirmed {
		t.Errorf("Expected near-exact amount to confirm, got %s", got.Status)
	}
}

func TestCheckOnceIgnoresMismatchedTransfers(t *testing.T) {
	p, st, stub, _, notifier := setupPoller(t)

	payment := st.Create("ord-1", 0.5, "addr-1")
	stub.AddTransfer(models.Transfer{TxHash: "tx-1", Amount: 0.4, Address: "addr-1"})
	stub.AddTransfer(models.Transfer{TxHash: "tx-2", Amount: 0.5, Address: "addr-other"})

	p.CheckOnce(context.Background())

	if got, _ := st.Get(payment.PaymentID); got.Status != models.PaymentStatusPending {
		t.Errorf("Expected payment to stay Pending, got %s", got.Status)
	}
	if len(notifier.published) != 0 {
		t.Errorf("Expected no notifications, got %+v", notifier.published)
	}
}

func TestCheckOnceToleratesWalletFailure(t *testing.T) {
	p, st, stub, _, _ := setupPoller(t)

	payment := st.Create("ord-1", 0.5, "addr-1")
	stub.Fail(errors.New("wallet unreachable"))

	p.CheckOnce(context.Background())

	// Inconclusive cycle: nothing confirmed, nothing expired early.
	if got, _ := st.Get(payment.PaymentID); got.Status != models.PaymentStatusPending {
		t.Errorf("Expected payment to stay Pending, got %s", got.Status)
	}
}

func TestCheckOnceExpiresStalePayments(t *testing.T) {
	p, st, _, _, notifier := setupPoller(t)
	p.ttl = time.Nanosecond

	payment := st.Create("ord-1", 0.5, "addr-1")
	time.Sleep(time.Millisecond)

	p.CheckOnce(context.Background())

	if got, _ := st.Get(payment.PaymentID); got.Status != models.PaymentStatusExpired {
		t.Fatalf("Expected payment Expired, got %s", got.Status)
	}
	if len(notifier.published) != 1 || notifier.published[0].status != models.PaymentStatusExpired {
		t.Errorf("Expected one Expired notification, got %+v", notifier.published)
	}
}

func TestForceCheck(t *testing.T) {
	p, st, stub, mock, _ := setupPoller(t)

	if _, err := p.ForceCheck(context.Background(), "missing"); !errors.Is(err, reconcile.ErrPaymentNotFound) {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}

	payment := st.Create("ord-1", 0.5, "addr-1")

	// No matching transfer yet.
	confirmed, err := p.ForceCheck(context.Background(), payment.PaymentID)
	if err != nil || confirmed {
		t.Errorf("Expected unconfirmed without transfers, got confirmed=%v err=%v", confirmed, err)
	}

	stub.AddTransfer(models.Transfer{TxHash: "tx-1", Amount: 0.5, Address: "addr-1"})
	expectOrderConfirmed(mock, "ord-1", payment.PaymentID)

	confirmed, err = p.ForceCheck(context.Background(), payment.PaymentID)
	if err != nil || !confirmed {
		t.Fatalf("Expected confirmation, got confirmed=%v err=%v", confirmed, err)
	}

	// Already confirmed: answered from the cache, no wallet call needed.
	stub.Fail(errors.New("wallet unreachable"))
	confirmed, err = p.ForceCheck(context.Background(), payment.PaymentID)
	if err != nil || !confirmed {
		t.Errorf("Expected confirmed answer from cache, got confirmed=%v err=%v", confirmed, err)
	}
}

func TestForceCheckWalletFailureIsInconclusive(t *testing.T) {
	p, st, stub, _, _ := setupPoller(t)

	payment := st.Create("ord-1", 0.5, "addr-1")
	stub.Fail(errors.New("wallet unreachable"))

	confirmed, err := p.ForceCheck(context.Background(), payment.PaymentID)
	if err != nil {
		t.Fatalf("Expected inconclusive check to not error, got %v", err)
	}
	if confirmed {
		t.Error("Expected unconfirmed result")
	}
	if got, _ := st.Get(payment.PaymentID); got.Status != models.PaymentStatusPending {
		t.Errorf("Expected payment to stay Pending, got %s", got.Status)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p, _, _, _, _ := setupPoller(t)
	p.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected poller to stop after cancellation")
	}
}
