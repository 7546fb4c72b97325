package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer directions reported by the gateway.
const (
	TransferIn  = "in"
	TransferOut = "out"
)

// Notification is a single bank transfer reported by the payment gateway.
// It is consumed once and never stored.
type Notification struct {
	ID              int64
	Gateway         string
	TransactionDate time.Time
	AccountNumber   string
	// Code is the payment code the gateway detected itself, if any.
	Code string
	// Content is the free-text transfer description typed by the customer.
	Content string
	// Description is the raw bank statement line.
	Description    string
	TransferType   string
	TransferAmount decimal.Decimal
	Accumulated    decimal.Decimal
	ReferenceCode  string
}

// haystack returns the text order codes are searched in.
func (n Notification) haystack() string {
	switch {
	case n.Content != "":
		return n.Content
	case n.Description != "":
		return n.Description
	default:
		return n.Code
	}
}
