package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// External fact providers. One data source per condition family; failures
// propagate as errors because a guessed decision has financial consequences.

type WeatherObservation struct {
	PrecipitationMM decimal.Decimal
	TemperatureC    decimal.Decimal
	ObservedAt      time.Time
}

type WeatherProvider interface {
	Current(ctx context.Context, lat, lng float64) (WeatherObservation, error)
}

type ShipmentStatus string

const (
	ShipmentInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentDelivered ShipmentStatus = "DELIVERED"
	ShipmentException ShipmentStatus = "EXCEPTION"
)

type Shipment struct {
	Status    ShipmentStatus
	LastEvent string
	UpdatedAt time.Time
}

type TrackingProvider interface {
	Track(ctx context.Context, trackingCode, carrier string) (Shipment, error)
}

type IndexPoint struct {
	Value         decimal.Decimal
	ReferenceDate time.Time
}

type IndexProvider interface {
	// Latest returns the most recently published value for the index type.
	Latest(ctx context.Context, indexType string) (IndexPoint, error)
}
