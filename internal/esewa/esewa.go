// Package esewa implements the eSewa ePay v2 redirect protocol: signed form
// construction for initiation and verification of the base64 JSON callback.
package esewa

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"storefront/internal/apperr"

	"github.com/shopspring/decimal"
)

const (
	// StatusComplete is the only callback status that settles a payment.
	StatusComplete = "COMPLETE"

	// DefaultPaymentURL is the sandbox form endpoint.
	DefaultPaymentURL = "https://rc-epay.esewa.com.np/api/epay/main/v2/form"
)

// initiateSignedFields is the order of fields in the initiation signature.
var initiateSignedFields = []string{"total_amount", "transaction_uuid", "product_code"}

// requiredCallbackFields must be covered by the callback signature.
var requiredCallbackFields = []string{"transaction_uuid", "total_amount", "status"}

type Config struct {
	MerchantCode string
	SecretKey    string
	PaymentURL   string
	SuccessURL   string
	FailureURL   string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.PaymentURL == "" {
		cfg.PaymentURL = DefaultPaymentURL
	}
	return &Client{cfg: cfg}
}

// MerchantCode returns the configured product_code.
func (c *Client) MerchantCode() string {
	return c.cfg.MerchantCode
}

// Sign builds "name=value" pairs for names, joined by commas, and returns the
// base64 HMAC-SHA256 of that message.
func (c *Client) Sign(fields map[string]string, names []string) string {
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+fields[name])
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(strings.Join(pairs, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// FormRequest holds the order amounts for a payment attempt.
type FormRequest struct {
	TransactionUUID string
	Total           decimal.Decimal
	Tax             decimal.Decimal
	ShippingCost    decimal.Decimal
}

// Form is what the storefront posts to the gateway through a hidden form.
type Form struct {
	PaymentURL string            `json:"paymentUrl"`
	FormData   map[string]string `json:"formData"`
}

// BuildForm returns the signed field set for a payment attempt.
func (c *Client) BuildForm(req FormRequest) Form {
	amount := req.Total.Sub(req.Tax).Sub(req.ShippingCost)

	data := map[string]string{
		"amount":                  amount.StringFixed(2),
		"tax_amount":              req.Tax.StringFixed(2),
		"total_amount":            req.Total.StringFixed(2),
		"transaction_uuid":        req.TransactionUUID,
		"product_code":            c.cfg.MerchantCode,
		"product_service_charge":  "0",
		"product_delivery_charge": req.ShippingCost.StringFixed(2),
		"success_url":             c.cfg.SuccessURL,
		"failure_url":             c.cfg.FailureURL,
		"signed_field_names":      strings.Join(initiateSignedFields, ","),
	}
	data["signature"] = c.Sign(data, initiateSignedFields)

	return Form{PaymentURL: c.cfg.PaymentURL, FormData: data}
}

// Callback is the decoded success redirect payload.
type Callback struct {
	TransactionCode  string
	Status           string
	TotalAmount      string
	TransactionUUID  string
	ProductCode      string
	SignedFieldNames string
	Signature        string

	// Fields holds every top-level value as its literal string form.
	Fields map[string]string
	// Raw is the decoded JSON document, kept for audit.
	Raw []byte
}

// DecodeCallback parses the base64 JSON "data" query parameter.
func DecodeCallback(data string) (*Callback, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("%w: missing data", apperr.ErrInvalidCallback)
	}

	raw, err := decodeBase64(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidCallback, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidCallback, err)
	}

	fields := make(map[string]string, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = fmt.Sprintf("%t", val)
		case nil:
			fields[k] = ""
		}
	}

	cb := &Callback{
		TransactionCode:  fields["transaction_code"],
		Status:           fields["status"],
		TotalAmount:      fields["total_amount"],
		TransactionUUID:  fields["transaction_uuid"],
		ProductCode:      fields["product_code"],
		SignedFieldNames: fields["signed_field_names"],
		Signature:        fields["signature"],
		Fields:           fields,
		Raw:              raw,
	}
	if cb.TransactionUUID == "" || cb.Status == "" {
		return nil, fmt.Errorf("%w: incomplete payload", apperr.ErrInvalidCallback)
	}
	return cb, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Verify recomputes the signature over the fields named in signed_field_names.
// The error never says which part of the check failed.
func (c *Client) Verify(cb *Callback) error {
	if cb == nil || cb.Signature == "" || cb.SignedFieldNames == "" {
		return apperr.ErrInvalidSignature
	}

	names := strings.Split(cb.SignedFieldNames, ",")
	covered := make(map[string]bool, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || name == "signature" {
			return apperr.ErrInvalidSignature
		}
		if _, ok := cb.Fields[name]; !ok {
			return apperr.ErrInvalidSignature
		}
		names[i] = name
		covered[name] = true
	}
	for _, name := range requiredCallbackFields {
		if !covered[name] {
			return apperr.ErrInvalidSignature
		}
	}

	expected := c.Sign(cb.Fields, names)
	if !hmac.Equal([]byte(expected), []byte(cb.Signature)) {
		return apperr.ErrInvalidSignature
	}
	return nil
}
