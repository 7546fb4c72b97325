package handler

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/payrecon/internal/domain/order"
	"github.com/xenking/payrecon/internal/domain/reconcile"
)

// createdAtLayouts are accepted for the caller-supplied creation time,
// including ISO timestamps without a zone as produced by many merchants.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func parseCreatedAt(s string) (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported time %q", s)
}

func decodeCreateOrder(b []byte) (order.CreateOrderRequest, error) {
	var req order.CreateOrderRequest
	err := jx.DecodeBytes(b).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "customer_name":
			req.CustomerName, err = optString(d)
		case "kingdom":
			req.Kingdom, err = optString(d)
		case "order_details":
			req.Details, err = decodeDetails(d)
		case "amount":
			req.Amount, err = decodeAmount(d)
		case "created_date", "created_at":
			var s string
			if s, err = optString(d); err == nil && s != "" {
				req.CreatedAt, err = parseCreatedAt(s)
			}
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	return req, err
}

func decodeDetails(d *jx.Decoder) ([]jx.Raw, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	out := []jx.Raw{}
	err := d.Arr(func(d *jx.Decoder) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		out = append(out, append(jx.Raw(nil), raw...))
		return nil
	})
	return out, err
}

// decodeAmount accepts a JSON number, a numeric string, or null (absent).
// Values must be whole amounts in the smallest currency unit.
func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	v, err := decodeDecimal(d)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !order.IsWholeAmount(v) {
		return decimal.Decimal{}, errors.New("must be a whole number with at most 18 digits")
	}
	return v, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Decimal{}, d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		if err := d.Skip(); err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.Decimal{}, errors.New("must be a number")
	}
}

func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeNotification(b []byte) (reconcile.Notification, error) {
	var n reconcile.Notification
	err := jx.DecodeBytes(b).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			if d.Next() == jx.Null {
				return d.Null()
			}
			n.ID, err = d.Int64()
		case "gateway":
			n.Gateway, err = optString(d)
		case "transactionDate":
			var s string
			if s, err = optString(d); err == nil && s != "" {
				// Informational only; a date in another shape is not fatal.
				n.TransactionDate, _ = time.Parse(transactionDateShape, s)
			}
		case "accountNumber":
			n.AccountNumber, err = optString(d)
		case "code":
			n.Code, err = optString(d)
		case "content":
			n.Content, err = optString(d)
		case "description":
			n.Description, err = optString(d)
		case "transferType":
			n.TransferType, err = optString(d)
		case "transferAmount":
			n.TransferAmount, err = decodeAmount(d)
		case "accumulated":
			n.Accumulated, err = decodeAmount(d)
		case "referenceCode":
			n.ReferenceCode, err = optString(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	return n, err
}

func decodeOrderCode(b []byte) (string, error) {
	var code string
	err := jx.DecodeBytes(b).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "order_code" {
			return d.Skip()
		}
		var err error
		code, err = optString(d)
		return err
	})
	return code, err
}

func encodeAmount(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_code", func(e *jx.Encoder) { e.Str(o.Code) })
		e.Field("customer_name", func(e *jx.Encoder) { e.Str(o.CustomerName) })
		e.Field("kingdom", func(e *jx.Encoder) { e.Str(o.Kingdom) })
		e.Field("order_details", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, d := range o.Details {
					e.Raw(d)
				}
			})
		})
		e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, o.Amount) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.Format(time.RFC3339)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		if o.PaidAt != nil {
			e.Field("paid_at", func(e *jx.Encoder) { e.Str(o.PaidAt.Format(time.RFC3339)) })
			e.Field("transaction_ref", func(e *jx.Encoder) { e.Str(o.TransactionRef) })
		}
	})
}
