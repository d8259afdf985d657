package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/manodhiambo/school-management-system-sub003/config"
	"github.com/manodhiambo/school-management-system-sub003/models"
	"github.com/manodhiambo/school-management-system-sub003/mpesa"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	tenantA = "0b5f6a52-6f1e-4c5e-9a0e-0f6b1d2a3c4d"
	tenantB = "7d1c2e3f-4a5b-4c6d-8e7f-9a0b1c2d3e4f"
)

var fixedNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedStudent(t *testing.T, db *gorm.DB, tenantID, admission string) *models.Student {
	t.Helper()
	st := &models.Student{
		TenantID:      tenantID,
		AdmissionNo:   admission,
		FirstName:     "Achieng",
		LastName:      "Otieno",
		GuardianName:  "Mary Otieno",
		GuardianEmail: "mary@example.com",
	}
	require.NoError(t, db.Create(st).Error)
	return st
}

func seedInvoice(t *testing.T, db *gorm.DB, tenantID string, studentID uint, total string) *models.Invoice {
	t.Helper()
	svc := NewInvoices(db)
	svc.now = func() time.Time { return fixedNow }
	inv, err := svc.CreateInvoice(context.Background(), tenantID, InvoiceInput{
		StudentID:   studentID,
		Description: "Term 3 fees",
		TotalAmount: dec(total),
		DueDate:     fixedNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	return inv
}

func reloadInvoice(t *testing.T, db *gorm.DB, id uint) models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, db.First(&inv, id).Error)
	return inv
}

// fakeGateway answers like the sandbox: every push is accepted with a new checkout id.
type fakeGateway struct {
	mu       sync.Mutex
	pushes   []mpesa.PushRequest
	queries  []string
	pushErr  error
	queryErr error
	query    *mpesa.QueryResponse
}

func (f *fakeGateway) STKPush(_ context.Context, in mpesa.PushRequest) (*mpesa.PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, in)
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	n := len(f.pushes)
	return &mpesa.PushResponse{
		MerchantRequestID: fmt.Sprintf("29115-34620561-%d", n),
		CheckoutRequestID: fmt.Sprintf("ws_CO_151020261430%04d", n),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (f *fakeGateway) QueryStatus(_ context.Context, checkoutRequestID string) (*mpesa.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, checkoutRequestID)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.query, nil
}

type fixture struct {
	db       *gorm.DB
	gw       *fakeGateway
	ledger   *Ledger
	payments *Payments
	mpesa    *Mpesa
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	gw := &fakeGateway{}
	log := zap.NewNop()
	ledger := NewLedger(db)
	payments := NewPayments(db, ledger, nil, log)
	svc := NewMpesa(db, gw, ledger, payments, log)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{db: db, gw: gw, ledger: ledger, payments: payments, mpesa: svc}
}

func successCallback(checkoutID, amount, receipt string) []byte {
	return []byte(fmt.Sprintf(`{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": %q,
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": %s},
          {"Name": "MpesaReceiptNumber", "Value": %q},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20261015143000},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`, checkoutID, amount, receipt))
}

func failedCallback(checkoutID string) []byte {
	return []byte(fmt.Sprintf(`{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": %q,
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`, checkoutID))
}
