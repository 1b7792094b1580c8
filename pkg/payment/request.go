package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/charge"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
)

// ErrNoData is returned for an empty or undecodable connector body.
var ErrNoData = errors.New("payment: no payment data received")

// text decodes a JSON string, number or bool as a string. Null, objects and
// lists decode as empty.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*t = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
	case '{', '[', 'n':
		*t = ""
	default:
		*t = text(data)
	}
	return nil
}

func (t text) String() string { return string(t) }

func (t text) Int() int {
	n, _ := strconv.Atoi(strings.TrimSpace(string(t)))
	return n
}

// first returns the first non-empty value.
func first(values ...text) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// connectorBody is what the platform's pay verb posts to the connector.
// Each field has a second spelling the platform has used.
type connectorBody struct {
	CardNumber     text              `json:"cardnumber"`
	CardNumberAlt  text              `json:"card_number"`
	ExpiryMonth    text              `json:"expiry_month"`
	ExpMonth       text              `json:"exp_month"`
	ExpiryYear     text              `json:"expiry_year"`
	ExpYear        text              `json:"exp_year"`
	CVV            text              `json:"cvv"`
	CVC            text              `json:"cvc"`
	PostalCode     text              `json:"postal_code"`
	ChargeAmount   text              `json:"chargeAmount"`
	Amount         text              `json:"amount"`
	CurrencyCode   text              `json:"currency_code"`
	Currency       text              `json:"currency"`
	OrderID        text              `json:"order_id"`
	OrderNumber    text              `json:"order_number"`
	Reservation    text              `json:"reservation_number"`
	CustomerName   text              `json:"customer_name"`
	CardholderName text              `json:"cardholder_name"`
	PhoneNumber    text              `json:"phone_number"`
	PaymentType    text              `json:"payment_type"`
	CallID         text              `json:"call_id"`
	SessionID      text              `json:"session_id"`
	Parameters     []map[string]text `json:"parameters"`
}

// Request is a decoded connector call.
type Request struct {
	Card              charge.Card
	Amount            string // dollars, as sent
	Currency          string
	OrderID           string
	OrderNumber       string
	ReservationNumber string
	PaymentType       string
	CallID            string
	SessionID         string
}

// ParseRequest decodes a connector body. Named parameters fill in fields
// the body leaves empty.
func ParseRequest(body []byte) (*Request, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, ErrNoData
	}
	var b connectorBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}

	params := parameters(b.Parameters)
	r := &Request{
		Card: charge.Card{
			Number:     strings.ReplaceAll(first(b.CardNumber, b.CardNumberAlt), " ", ""),
			ExpMonth:   text(first(b.ExpiryMonth, b.ExpMonth)).Int(),
			ExpYear:    text(first(b.ExpiryYear, b.ExpYear)).Int(),
			CVC:        first(b.CVV, b.CVC),
			PostalCode: b.PostalCode.String(),
			Name:       first(b.CustomerName, params["customer_name"], b.CardholderName),
			Phone:      first(b.PhoneNumber, params["phone_number"]),
		},
		Amount:            first(b.ChargeAmount, b.Amount),
		Currency:          strings.ToLower(first(b.CurrencyCode, b.Currency, "usd")),
		OrderID:           first(b.OrderID, params["order_id"]),
		OrderNumber:       first(b.OrderNumber, params["order_number"]),
		ReservationNumber: first(b.Reservation, params["reservation_number"]),
		PaymentType:       first(b.PaymentType, params["payment_type"]),
		CallID:            first(b.CallID, params["call_id"]),
		SessionID:         first(b.SessionID, params["session_id"]),
	}
	return r, nil
}

// parameters flattens [{name, value}] and [{key: value}] lists.
func parameters(list []map[string]text) map[string]text {
	out := make(map[string]text, len(list))
	for _, p := range list {
		if name, ok := p["name"]; ok {
			if _, has := out[string(name)]; !has {
				out[string(name)] = p["value"]
			}
			continue
		}
		for k, v := range p {
			if _, has := out[k]; !has {
				out[k] = v
			}
		}
	}
	return out
}

// forOrder reports whether the payment settles a standalone order.
func (r *Request) forOrder() bool {
	return r.PaymentType == paysession.TypeOrder && (r.OrderNumber != "" || r.OrderID != "")
}

// Description names the charge on the card statement.
func (r *Request) Description() string {
	switch {
	case r.OrderNumber != "":
		return fmt.Sprintf("Bobby's Table Order #%s", r.OrderNumber)
	case r.ReservationNumber != "":
		return fmt.Sprintf("Bobby's Table Reservation #%s", r.ReservationNumber)
	}
	return "Bobby's Table Payment"
}

// Metadata is attached to the payment intent.
func (r *Request) Metadata() map[string]string {
	return map[string]string{
		"payment_source":     charge.PaymentSource,
		"order_id":           r.OrderID,
		"order_number":       r.OrderNumber,
		"reservation_number": r.ReservationNumber,
		"customer_name":      r.Card.Name,
		"customer_phone":     r.Card.Phone,
		"payment_type":       r.PaymentType,
		"call_id":            r.CallID,
	}
}
