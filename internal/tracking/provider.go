// Package tracking queries shipment status for customers and hides customs
// and taxation details from them.
package tracking

import (
	"context"
	"errors"
	"time"
)

// ErrNotTracked is returned by a Provider for codes it has not registered.
var ErrNotTracked = errors.New("tracking: code not registered")

// Provider is a shipment tracking service.
type Provider interface {
	// Register starts tracking code. Registering a known code is not an error.
	Register(ctx context.Context, code string) error
	// Query returns the latest information for code, or ErrNotTracked.
	Query(ctx context.Context, code string) (*Info, error)
	// List returns every package currently being tracked.
	List(ctx context.Context) ([]Info, error)
}

// Main package statuses reported by the provider.
const (
	StatusNotFound           = "NotFound"
	StatusInfoReceived       = "InfoReceived"
	StatusInTransit          = "InTransit"
	StatusExpired            = "Expired"
	StatusAvailableForPickup = "AvailableForPickup"
	StatusOutForDelivery     = "OutForDelivery"
	StatusDeliveryFailure    = "DeliveryFailure"
	StatusDelivered          = "Delivered"
	StatusException          = "Exception"
)

// Info is the provider's raw view of a package. It may contain customs
// wording and must go through the Client before reaching a customer.
type Info struct {
	Code            string
	Carrier         int
	Status          string
	SubStatus       string
	LatestEvent     string
	Location        string
	Events          []Event // newest first
	DaysInTransit   int
	DaysSinceUpdate int
}

// Event is one checkpoint in a package's history.
type Event struct {
	Time        time.Time `json:"time,omitzero"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
}

var statusLabels = map[string]string{
	StatusNotFound:           "Aguardando informações da transportadora",
	StatusInfoReceived:       "Objeto postado, aguardando coleta",
	StatusInTransit:          "Em trânsito",
	StatusExpired:            "Rastreamento sem atualização",
	StatusAvailableForPickup: "Disponível para retirada",
	StatusOutForDelivery:     "Saiu para entrega",
	StatusDeliveryFailure:    "Falha na entrega",
	StatusDelivered:          "Entregue",
	StatusException:          "Ocorrência no transporte",
}

// StatusLabel returns the Portuguese label for a provider status.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return statusLabels[StatusInTransit]
}

// eventTranslations maps common English carrier phrases to Portuguese.
// Sanitizer.CleanEvent checks both the raw and the translated text.
var eventTranslations = []struct{ from, to string }{
	{"Import customs clearance delay", "Atraso no desembaraço aduaneiro"},
	{"Customs duties payment requested", "Pagamento de taxas alfandegárias solicitado"},
	{"Package returning to sender", "Pacote retornando ao remetente"},
	{"Carrier note", "Nota da transportadora"},
	{"Awaiting payment", "Aguardando pagamento"},
	{"Import customs retained", "Retido na alfândega"},
	{"Import customs clearance complete", "Desembaraço aduaneiro concluído"},
	{"Pending customs inspection", "Aguardando inspeção aduaneira"},
	{"Customs charges due", "Taxas alfandegárias pendentes"},
	{"Out for delivery", "Saiu para entrega"},
	{"In transit", "Em trânsito"},
}

// TranslateEvent replaces known English phrases with Portuguese ones.
func TranslateEvent(s string) string {
	for _, t := range eventTranslations {
		s = replaceFold(s, t.from, t.to)
	}
	return s
}
