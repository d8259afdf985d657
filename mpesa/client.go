// Package mpesa is a client for the Safaricom Daraja STK Push API.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	timestampLayout = "20060102150405"

	maxTransactionDesc = 13
)

// AccountReferenceMax is the longest account reference the gateway accepts.
const AccountReferenceMax = 12

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	TransactionType string
	CallbackURL     string
	TokenTimeout    time.Duration
	RequestTimeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 15 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{cfg: cfg, http: &http.Client{}, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

type PushRequest struct {
	PhoneNumber      string // already normalized, 254XXXXXXXXX
	Amount           int64
	AccountReference string
	Description      string
}

type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type QueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type pushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type queryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// gateway error body, e.g. {"requestId":"…","errorCode":"404.001.03","errorMessage":"Invalid Access Token"}
type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Token fetches a fresh OAuth access token. Tokens are not cached across calls.
func (c *Client) Token(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", &Error{Op: "token", Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := c.do(req, "token", &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &Error{Op: "token", Message: "empty access token in response"}
	}
	return out.AccessToken, nil
}

func (c *Client) STKPush(ctx context.Context, in PushRequest) (*PushResponse, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.now().Format(timestampLayout)
	body := pushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            in.Amount,
		PartyA:            in.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       in.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(in.AccountReference, AccountReferenceMax),
		TransactionDesc:   truncate(in.Description, maxTransactionDesc),
	}

	var out PushResponse
	if err := c.post(ctx, "stkpush", "/mpesa/stkpush/v1/processrequest", token, body, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, &Error{Op: "stkpush", Message: fmt.Sprintf("response code %s: %s", out.ResponseCode, out.ResponseDescription)}
	}
	return &out, nil
}

func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.now().Format(timestampLayout)
	body := queryBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	var out QueryResponse
	if err := c.post(ctx, "query", "/mpesa/stkpushquery/v1/query", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, op, path, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: upstreamMessage(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Err: err}
	}
	return nil
}

func upstreamMessage(raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.ErrorMessage != "" {
		if eb.ErrorCode != "" {
			return eb.ErrorCode + " " + eb.ErrorMessage
		}
		return eb.ErrorMessage
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "empty response body"
	}
	return truncate(msg, 512)
}

// ResultCodeInt parses the string result code the query endpoint returns.
func (q *QueryResponse) ResultCodeInt() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(q.ResultCode))
	return n, err == nil
}
