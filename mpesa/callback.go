package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMalformedCallback = errors.New("malformed stk callback")

// Metadata item names sent on a successful payment.
const (
	ItemAmount          = "Amount"
	ItemReceiptNumber   = "MpesaReceiptNumber"
	ItemTransactionDate = "TransactionDate"
	ItemPhoneNumber     = "PhoneNumber"
)

type CallbackPayload struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string    `json:"MerchantRequestID"`
	CheckoutRequestID string    `json:"CheckoutRequestID"`
	ResultCode        *int      `json:"ResultCode"`
	ResultDesc        string    `json:"ResultDesc"`
	CallbackMetadata  *Metadata `json:"CallbackMetadata,omitempty"`
}

func (s StkCallback) Succeeded() bool {
	return s.ResultCode != nil && *s.ResultCode == 0
}

// Metadata is the loosely typed Name/Value list. Values are json.Number or string.
type Metadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// ParseCallback decodes and shape-checks a raw callback body.
func ParseCallback(raw []byte) (*StkCallback, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var p CallbackPayload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := p.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	if cb.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	return &cb, nil
}

// Lookup matches by item name, case-insensitively. Position is irrelevant.
func (m *Metadata) Lookup(name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, it := range m.Item {
		if strings.EqualFold(it.Name, name) {
			return it.Value, it.Value != nil
		}
	}
	return nil, false
}

func (m *Metadata) String(name string) string {
	v, ok := m.Lookup(name)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (m *Metadata) Decimal(name string) (decimal.Decimal, bool) {
	s := m.String(name)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Gateway timestamps are East Africa Time without a zone marker.
var eat = time.FixedZone("EAT", 3*60*60)

func (m *Metadata) Time(name string) (time.Time, bool) {
	s := m.String(name)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(timestampLayout, s, eat)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
