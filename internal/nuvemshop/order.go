package nuvemshop

import (
	"fmt"
	"strings"
	"unicode"
)

// Order is the subset of a Nuvemshop order the attendant works with.
type Order struct {
	ID             int64     `json:"id"`
	Number         int64     `json:"number"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	ShippingStatus string    `json:"shipping_status"`
	TrackingNumber string    `json:"shipping_tracking_number"`
	TrackingURL    string    `json:"shipping_tracking_url"`
	Total          string    `json:"total"`
	Currency       string    `json:"currency"`
	CreatedAt      string    `json:"created_at"`
	Customer       Customer  `json:"customer"`
	Products       []Product `json:"products"`
}

// Customer is the buyer attached to an order.
type Customer struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Identification string `json:"identification"` // CPF/CNPJ
}

// Product is one order line.
type Product struct {
	Name string `json:"name"`
}

// Summary is the customer-safe view of an order handed to the assistant.
type Summary struct {
	Number         string   `json:"numero"`
	Status         string   `json:"status"`
	PaymentStatus  string   `json:"pagamento"`
	ShippingStatus string   `json:"envio"`
	TrackingCode   string   `json:"codigo_rastreio,omitempty"`
	Total          string   `json:"total"`
	CreatedAt      string   `json:"data"`
	CustomerName   string   `json:"cliente"`
	Products       []string `json:"produtos,omitempty"`
}

// Summarize builds the customer-safe summary. Contact details and the
// identification number are left out.
func (o *Order) Summarize() Summary {
	s := Summary{
		Number:         fmt.Sprint(o.Number),
		Status:         translate(statusLabels, o.Status),
		PaymentStatus:  translate(paymentLabels, o.PaymentStatus),
		ShippingStatus: translate(shippingLabels, o.ShippingStatus),
		TrackingCode:   o.TrackingNumber,
		Total:          o.Total,
		CreatedAt:      o.CreatedAt,
		CustomerName:   firstName(o.Customer.Name),
	}
	for _, p := range o.Products {
		s.Products = append(s.Products, p.Name)
	}
	return s
}

// IdentificationSuffix returns the last n digits of the customer's
// CPF/CNPJ, ignoring punctuation. Empty when fewer than n digits exist.
func (o *Order) IdentificationSuffix(n int) string {
	d := digits(o.Customer.Identification)
	if len(d) < n {
		return ""
	}
	return d[len(d)-n:]
}

// MatchesIdentification reports whether input ends with the same digits
// as the customer's identification.
func (o *Order) MatchesIdentification(input string, n int) bool {
	want := o.IdentificationSuffix(n)
	got := digits(input)
	if want == "" || len(got) < n {
		return false
	}
	return got[len(got)-n:] == want
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var statusLabels = map[string]string{
	"open":      "aberto",
	"closed":    "concluído",
	"cancelled": "cancelado",
}

var paymentLabels = map[string]string{
	"pending":    "aguardando pagamento",
	"authorized": "autorizado",
	"paid":       "pago",
	"abandoned":  "abandonado",
	"refunded":   "reembolsado",
	"voided":     "cancelado",
}

var shippingLabels = map[string]string{
	"unpacked":    "em separação",
	"unfulfilled": "em separação",
	"fulfilled":   "enviado",
	"shipped":     "enviado",
	"unshipped":   "aguardando envio",
}

func translate(labels map[string]string, v string) string {
	if l, ok := labels[v]; ok {
		return l
	}
	return v
}
