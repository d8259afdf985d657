// Package notify delivers payment receipts to guardians.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Receipt struct {
	TenantID      string
	ReceiptNumber string
	InvoiceNumber string // empty for unallocated payments
	StudentName   string
	GuardianName  string
	GuardianEmail string
	Amount        decimal.Decimal
	Balance       *decimal.Decimal
	Method        string
	Reference     string
	PaidAt        time.Time
}

type Notifier interface {
	PaymentReceived(ctx context.Context, r Receipt) error
}

type MailerConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Sender   string
}

// dialer is the part of gomail.Dialer the mailer uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	sender string
	dialer dialer
	log    *zap.Logger
}

func NewMailer(cfg MailerConfig, log *zap.Logger) *Mailer {
	return &Mailer{
		sender: cfg.Sender,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		log:    log,
	}
}

func (m *Mailer) PaymentReceived(ctx context.Context, r Receipt) error {
	if r.GuardianEmail == "" {
		m.log.Debug("no guardian email, receipt not sent", zap.String("receipt", r.ReceiptNumber))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.sender)
	msg.SetHeader("To", r.GuardianEmail)
	msg.SetHeader("Subject", "Payment received - "+r.ReceiptNumber)
	msg.SetBody("text/plain", ReceiptBody(r))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send receipt %s: %w", r.ReceiptNumber, err)
	}
	m.log.Info("receipt email sent", zap.String("receipt", r.ReceiptNumber), zap.String("to", r.GuardianEmail))
	return nil
}

func ReceiptBody(r Receipt) string {
	var b strings.Builder
	greeting := r.GuardianName
	if greeting == "" {
		greeting = "Parent/Guardian"
	}
	fmt.Fprintf(&b, "Dear %s,\n\n", greeting)
	fmt.Fprintf(&b, "We have received a payment of KES %s for %s.\n\n", r.Amount.StringFixed(2), r.StudentName)
	fmt.Fprintf(&b, "Receipt number: %s\n", r.ReceiptNumber)
	if r.InvoiceNumber != "" {
		fmt.Fprintf(&b, "Invoice: %s\n", r.InvoiceNumber)
	}
	fmt.Fprintf(&b, "Method: %s\n", r.Method)
	if r.Reference != "" {
		fmt.Fprintf(&b, "Reference: %s\n", r.Reference)
	}
	fmt.Fprintf(&b, "Date: %s\n", r.PaidAt.Format("02 Jan 2006 15:04"))
	if r.Balance != nil {
		fmt.Fprintf(&b, "Outstanding balance: KES %s\n", r.Balance.StringFixed(2))
	}
	b.WriteString("\nThank you.\n")
	return b.String()
}

// Nop drops receipts. Used when SMTP is not configured.
type Nop struct{}

func (Nop) PaymentReceived(context.Context, Receipt) error { return nil }
