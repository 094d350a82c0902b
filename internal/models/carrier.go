package models

import (
	"strings"

	"github.com/pkg/errors"
)

// Carrier: закрытый набор поддерживаемых транспортных компаний.
type Carrier string

const (
	CarrierAccert    Carrier = "accert"
	CarrierJamef     Carrier = "jamef"
	CarrierBraspress Carrier = "braspress"
	CarrierViaVerde  Carrier = "viaverde"
)

var ErrUnknownCarrier = errors.New("unknown carrier")

// Carriers returns every supported carrier in a stable order.
func Carriers() []Carrier {
	return []Carrier{CarrierAccert, CarrierJamef, CarrierBraspress, CarrierViaVerde}
}

// ParseCarrier accepts any casing and surrounding spaces ("ACCERT", " Jamef ").
func ParseCarrier(s string) (Carrier, error) {
	c := Carrier(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CarrierAccert, CarrierJamef, CarrierBraspress, CarrierViaVerde:
		return c, nil
	default:
		return "", errors.Wrapf(ErrUnknownCarrier, "%q", s)
	}
}

// DisplayName is the upper-case label used in digests.
func (c Carrier) DisplayName() string {
	return strings.ToUpper(string(c))
}
