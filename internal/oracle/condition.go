// Package oracle resolves external real-world facts into advisory release
// decisions. Results are never persisted and never cached: the underlying
// fact moves over time, so every call re-fetches it.
package oracle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type names a condition family. The set is closed; unknown types are
// rejected up front.
type Type string

const (
	RainThreshold        Type = "RAIN_THRESHOLD"
	TemperatureThreshold Type = "TEMPERATURE_THRESHOLD"
	DeliveryConfirmed    Type = "DELIVERY_CONFIRMED"
	InflationAbove       Type = "INFLATION_ABOVE"
	InflationBelow       Type = "INFLATION_BELOW"
	SelicAbove           Type = "SELIC_ABOVE"
	SelicBelow           Type = "SELIC_BELOW"
)

type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// IndexSelic is the economic-index type the SELIC_* conditions are pinned to.
const IndexSelic = "SELIC"

// Condition is one condition instance with its parameters. Only the fields
// relevant to the type are read.
type Condition struct {
	Type Type `json:"type"`

	// Weather conditions.
	Latitude  float64 `json:"lat,omitempty"`
	Longitude float64 `json:"lng,omitempty"`

	// Numeric conditions.
	Threshold decimal.Decimal `json:"threshold,omitempty"`
	Direction Direction       `json:"direction,omitempty"`

	// Shipment conditions.
	TrackingCode string `json:"trackingCode,omitempty"`
	Carrier      string `json:"carrier,omitempty"`

	// Economic-index conditions.
	IndexType string `json:"indexType,omitempty"`
}

// Result is the full decision record returned for auditability. It is
// stateless and recomputed fresh on every call.
type Result struct {
	EscrowID     string          `json:"escrowId"`
	Condition    Condition       `json:"condition"`
	ConditionMet bool            `json:"conditionMet"`
	CurrentValue string          `json:"currentValue"`
	Threshold    decimal.Decimal `json:"threshold"`
	Message      string          `json:"message"`
	CheckedAt    time.Time       `json:"checkedAt"`
}
