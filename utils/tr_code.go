// utils/tr_code.go
package utils

import (
	"fmt"
	"time"
)

const (
	ReceiptPrefix = "RCP"
	InvoicePrefix = "INV"
)

// PeriodScope is the sequence scope for a prefix in the month of t,
// e.g. "RCP-202610". Numbering restarts every month.
func PeriodScope(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, t.UTC().Format("200601"))
}

// GenReceiptNo formats RCP-202610-000042.
func GenReceiptNo(seq int64, t time.Time) string {
	return fmt.Sprintf("%s-%06d", PeriodScope(ReceiptPrefix, t), seq)
}

// GenInvoiceNo formats INV-202610-000042.
func GenInvoiceNo(seq int64, t time.Time) string {
	return fmt.Sprintf("%s-%06d", PeriodScope(InvoicePrefix, t), seq)
}
