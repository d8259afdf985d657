package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/manodhiambo/school-management-system-sub003/models"
	"github.com/manodhiambo/school-management-system-sub003/mpesa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initiate(t *testing.T, f *fixture, inv *models.Invoice, amount string) *models.MpesaTransaction {
	t.Helper()
	txn, err := f.mpesa.Initiate(context.Background(), inv.TenantID, InitiateInput{
		InvoiceID:   inv.ID,
		PhoneNumber: "0712345678",
		Amount:      dec(amount),
		InitiatedBy: "bursar-1",
	})
	require.NoError(t, err)
	require.NotNil(t, txn.CheckoutRequestID)
	return txn
}

func loadTxn(t *testing.T, f *fixture, id uint) models.MpesaTransaction {
	t.Helper()
	var txn models.MpesaTransaction
	require.NoError(t, f.db.First(&txn, id).Error)
	return txn
}

func TestInitiate_SendsPushAndStoresPending(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "5000")

	txn, err := f.mpesa.Initiate(context.Background(), tenantA, InitiateInput{
		InvoiceID:   inv.ID,
		PhoneNumber: "0712 345 678",
		Amount:      dec("1500.4"),
		InitiatedBy: "bursar-1",
	})
	require.NoError(t, err)

	require.Len(t, f.gw.pushes, 1)
	push := f.gw.pushes[0]
	assert.Equal(t, "254712345678", push.PhoneNumber)
	assert.EqualValues(t, 1500, push.Amount)
	assert.Equal(t, "202610000001", push.AccountReference)

	stored := loadTxn(t, f, txn.ID)
	assert.Equal(t, models.MpesaPending, stored.Status)
	assert.Equal(t, tenantA, stored.TenantID)
	assert.Equal(t, st.ID, stored.StudentID)
	assert.True(t, stored.Amount.Equal(dec("1500")))
	require.NotNil(t, stored.CheckoutRequestID)
	assert.Equal(t, "ws_CO_1510202614300001", *stored.CheckoutRequestID)
	assert.Equal(t, "bursar-1", stored.InitiatedBy)

	// initiation never touches the ledger
	after := reloadInvoice(t, f.db, inv.ID)
	assert.True(t, after.PaidAmount.IsZero())
}

func TestInitiate_Rejections(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")

	tests := []struct {
		name   string
		tenant string
		in     InitiateInput
		want   error
	}{
		{"bad phone", tenantA, InitiateInput{InvoiceID: inv.ID, PhoneNumber: "12345", Amount: dec("100")}, ErrValidation},
		{"zero amount", tenantA, InitiateInput{InvoiceID: inv.ID, PhoneNumber: "0712345678", Amount: dec("0.4")}, ErrValidation},
		{"over balance", tenantA, InitiateInput{InvoiceID: inv.ID, PhoneNumber: "0712345678", Amount: dec("1001")}, ErrConflict},
		{"unknown invoice", tenantA, InitiateInput{InvoiceID: 9999, PhoneNumber: "0712345678", Amount: dec("100")}, ErrNotFound},
		{"other tenant", tenantB, InitiateInput{InvoiceID: inv.ID, PhoneNumber: "0712345678", Amount: dec("100")}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mpesa.Initiate(context.Background(), tt.tenant, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.gw.pushes)
	var n int64
	require.NoError(t, f.db.Model(&models.MpesaTransaction{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestInitiate_RefusesReferenceLongerThanGatewayLimit(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	require.NoError(t, f.db.Model(inv).Update("invoice_number", "INV-202610-1000000").Error)

	_, err := f.mpesa.Initiate(context.Background(), tenantA, InitiateInput{
		InvoiceID: inv.ID, PhoneNumber: "0712345678", Amount: dec("100"),
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.gw.pushes)
	var n int64
	require.NoError(t, f.db.Model(&models.MpesaTransaction{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAccountReference(t *testing.T) {
	ref, err := accountReference("INV-202610-000042")
	require.NoError(t, err)
	assert.Equal(t, "202610000042", ref)
	assert.Len(t, ref, mpesa.AccountReferenceMax)

	_, err = accountReference("INV-202610-1000000")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClip_CutsOnRuneBoundary(t *testing.T) {
	got := clip(strings.Repeat("é", 200), 255)
	assert.Equal(t, strings.Repeat("é", 200), got)

	got = clip(strings.Repeat("é", 300), 255)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 255, utf8.RuneCountInString(got))

	assert.Equal(t, "abc", clip("abcdef", 3))
}

func TestInitiate_PaidInvoiceIsConflict(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	_, err := f.ledger.ApplyPayment(context.Background(), tenantA, inv.ID, dec("1000"))
	require.NoError(t, err)

	_, err = f.mpesa.Initiate(context.Background(), tenantA, InitiateInput{
		InvoiceID: inv.ID, PhoneNumber: "254712345678", Amount: dec("1"),
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInitiate_GatewayFailureLeavesPendingRow(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")

	f.gw.pushErr = &mpesa.Error{Op: "stkpush", StatusCode: 500, Message: "500.001.1001 Unable to lock subscriber"}
	_, err := f.mpesa.Initiate(context.Background(), tenantA, InitiateInput{
		InvoiceID: inv.ID, PhoneNumber: "0712345678", Amount: dec("100"),
	})
	require.ErrorIs(t, err, ErrGateway)
	assert.NotErrorIs(t, err, ErrGatewayTimeout)

	var rows []models.MpesaTransaction
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.MpesaPending, rows[0].Status)
	assert.Nil(t, rows[0].CheckoutRequestID)
	assert.Contains(t, rows[0].ResultDesc, "Unable to lock subscriber")

	f.gw.pushErr = &mpesa.Error{Op: "stkpush", Err: context.DeadlineExceeded}
	_, err = f.mpesa.Initiate(context.Background(), tenantA, InitiateInput{
		InvoiceID: inv.ID, PhoneNumber: "0712345678", Amount: dec("100"),
	})
	assert.ErrorIs(t, err, ErrGatewayTimeout)
}

func TestHandleCallback_SuccessSettlesInvoice(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "5000")
	txn := initiate(t, f, inv, "5000")

	res, err := f.mpesa.HandleCallback(context.Background(), successCallback(*txn.CheckoutRequestID, "5000", "QJK1234ABC"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	require.NotNil(t, res.Payment)
	require.NotNil(t, res.Invoice)

	after := reloadInvoice(t, f.db, inv.ID)
	assert.Equal(t, models.InvoicePaid, after.Status)
	assert.True(t, after.BalanceAmount.IsZero())
	assert.True(t, after.PaidAmount.Equal(dec("5000")))

	var pays []models.Payment
	require.NoError(t, f.db.Where("invoice_id = ?", inv.ID).Find(&pays).Error)
	require.Len(t, pays, 1)
	assert.Equal(t, "QJK1234ABC", pays[0].TransactionID)
	assert.Equal(t, models.PaymentMpesa, pays[0].PaymentMethod)
	assert.True(t, pays[0].Amount.Equal(dec("5000")))
	assert.Equal(t, "RCP-202610-000001", pays[0].ReceiptNumber)
	assert.Equal(t, time.Date(2026, 10, 15, 11, 30, 0, 0, time.UTC), pays[0].PaymentDate.UTC())

	stored := loadTxn(t, f, txn.ID)
	assert.Equal(t, models.MpesaSuccess, stored.Status)
	assert.Equal(t, "QJK1234ABC", stored.ReceiptNumber)
	require.NotNil(t, stored.ResultCode)
	assert.Equal(t, 0, *stored.ResultCode)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, pays[0].ID, *stored.PaymentID)
	require.NotNil(t, stored.CompletedAt)
	assert.NotEmpty(t, stored.Payload)
}

func TestHandleCallback_DuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	txn := initiate(t, f, inv, "400")
	body := successCallback(*txn.CheckoutRequestID, "400", "QJK0000001")

	res, err := f.mpesa.HandleCallback(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)

	res, err = f.mpesa.HandleCallback(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Nil(t, res.Payment)

	var n int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	after := reloadInvoice(t, f.db, inv.ID)
	assert.True(t, after.PaidAmount.Equal(dec("400")))
	assert.True(t, after.BalanceAmount.Equal(dec("600")))
	assert.Equal(t, models.InvoicePartial, after.Status)
}

func TestHandleCallback_FailureLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	txn := initiate(t, f, inv, "400")

	res, err := f.mpesa.HandleCallback(context.Background(), failedCallback(*txn.CheckoutRequestID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	stored := loadTxn(t, f, txn.ID)
	assert.Equal(t, models.MpesaFailed, stored.Status)
	require.NotNil(t, stored.ResultCode)
	assert.Equal(t, 1032, *stored.ResultCode)
	assert.Equal(t, "Request cancelled by user", stored.ResultDesc)
	assert.Nil(t, stored.PaymentID)

	after := reloadInvoice(t, f.db, inv.ID)
	assert.True(t, after.PaidAmount.IsZero())
	assert.Equal(t, models.InvoicePending, after.Status)

	// a late success for the same request does not resurrect it
	res, err = f.mpesa.HandleCallback(context.Background(), successCallback(*txn.CheckoutRequestID, "400", "QJK0000002"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	var n int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHandleCallback_UnmatchedAndMalformed(t *testing.T) {
	f := newFixture(t)

	res, err := f.mpesa.HandleCallback(context.Background(), successCallback("ws_CO_unknown", "100", "QJK0000003"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)

	_, err = f.mpesa.HandleCallback(context.Background(), []byte(`{"Body":`))
	assert.ErrorIs(t, err, ErrReconciliation)
	assert.ErrorIs(t, err, mpesa.ErrMalformedCallback)

	_, err = f.mpesa.HandleCallback(context.Background(), []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`))
	assert.ErrorIs(t, err, ErrReconciliation)
}

func TestHandleCallback_SuccessWithoutReceiptStaysPending(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	txn := initiate(t, f, inv, "400")

	body := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"` +
		*txn.CheckoutRequestID + `","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":400}]}}}}`)
	_, err := f.mpesa.HandleCallback(context.Background(), body)
	assert.ErrorIs(t, err, ErrReconciliation)

	stored := loadTxn(t, f, txn.ID)
	assert.Equal(t, models.MpesaPending, stored.Status)
	after := reloadInvoice(t, f.db, inv.ID)
	assert.True(t, after.PaidAmount.IsZero())
}

func TestHandleCallback_SubCentAmountStaysPending(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	txn := initiate(t, f, inv, "400")

	_, err := f.mpesa.HandleCallback(context.Background(),
		successCallback(*txn.CheckoutRequestID, "399.995", "TJF7QX1ABC"))
	assert.ErrorIs(t, err, ErrReconciliation)

	stored := loadTxn(t, f, txn.ID)
	assert.Equal(t, models.MpesaPending, stored.Status)
	var n int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&n).Error)
	assert.Zero(t, n)
	after := reloadInvoice(t, f.db, inv.ID)
	assert.True(t, after.PaidAmount.IsZero())
}

func TestHandleCallback_OverflowIsRecordedUnallocated(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	first := initiate(t, f, inv, "600")
	second := initiate(t, f, inv, "600")

	res, err := f.mpesa.HandleCallback(context.Background(), successCallback(*first.CheckoutRequestID, "600", "QJK0000010"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)

	res, err = f.mpesa.HandleCallback(context.Background(), successCallback(*second.CheckoutRequestID, "600", "QJK0000011"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnallocated, res.Outcome)
	require.NotNil(t, res.Payment)
	assert.Nil(t, res.Payment.InvoiceID)
	assert.Equal(t, st.ID, res.Payment.StudentID)

	after := reloadInvoice(t, f.db, inv.ID)
	assert.True(t, after.BalanceAmount.Equal(dec("400")))
	assert.True(t, after.PaidAmount.Add(after.BalanceAmount).Equal(after.NetAmount))

	stored := loadTxn(t, f, second.ID)
	assert.Equal(t, models.MpesaSuccess, stored.Status)
	require.NotNil(t, stored.PaymentID)
}

func TestQueryStatus_PassesThroughWithoutWriting(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	txn := initiate(t, f, inv, "400")
	f.gw.query = &mpesa.QueryResponse{
		ResponseCode:      "0",
		CheckoutRequestID: *txn.CheckoutRequestID,
		ResultCode:        "1032",
		ResultDesc:        "Request cancelled by user",
	}

	resp, err := f.mpesa.QueryStatus(context.Background(), tenantA, *txn.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, "1032", resp.ResultCode)
	assert.Equal(t, models.MpesaPending, loadTxn(t, f, txn.ID).Status)

	_, err = f.mpesa.QueryStatus(context.Background(), tenantB, *txn.CheckoutRequestID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mpesa.QueryStatus(context.Background(), tenantA, "ws_CO_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mpesa.QueryStatus(context.Background(), tenantA, " ")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Len(t, f.gw.queries, 1)

	f.gw.queryErr = &mpesa.Error{Op: "query", StatusCode: 503, Message: "unavailable"}
	_, err = f.mpesa.QueryStatus(context.Background(), tenantA, *txn.CheckoutRequestID)
	assert.ErrorIs(t, err, ErrGateway)
}

func TestTransactionLookups(t *testing.T) {
	f := newFixture(t)
	st := seedStudent(t, f.db, tenantA, "ADM-1")
	inv := seedInvoice(t, f.db, tenantA, st.ID, "1000")
	a := initiate(t, f, inv, "100")
	initiate(t, f, inv, "200")

	view, err := f.mpesa.GetTransaction(context.Background(), tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.InvoiceNumber, view.InvoiceNumber)
	assert.Equal(t, "Achieng Otieno", view.StudentName)
	assert.Equal(t, "ADM-1", view.AdmissionNo)
	assert.True(t, view.Amount.Equal(dec("100")))

	_, err = f.mpesa.GetTransaction(context.Background(), tenantB, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err := f.mpesa.ListStudentTransactions(context.Background(), tenantA, st.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = f.mpesa.ListStudentTransactions(context.Background(), tenantB, st.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
