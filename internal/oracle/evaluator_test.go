package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"custodia/internal/fault"
	"custodia/internal/metrics"
)

type fakeWeather struct {
	obs   WeatherObservation
	err   error
	calls int
}

func (f *fakeWeather) Current(context.Context, float64, float64) (WeatherObservation, error) {
	f.calls++
	return f.obs, f.err
}

type fakeTracking struct {
	shipment    Shipment
	err         error
	lastCode    string
	lastCarrier string
}

func (f *fakeTracking) Track(_ context.Context, code, carrier string) (Shipment, error) {
	f.lastCode = code
	f.lastCarrier = carrier
	return f.shipment, f.err
}

type fakeIndex struct {
	points   map[string]IndexPoint
	err      error
	lastType string
}

func (f *fakeIndex) Latest(_ context.Context, indexType string) (IndexPoint, error) {
	f.lastType = indexType
	if f.err != nil {
		return IndexPoint{}, f.err
	}
	point, ok := f.points[indexType]
	if !ok {
		return IndexPoint{}, errors.New("unknown index")
	}
	return point, nil
}

func newTestEvaluator(weather *fakeWeather, tracking *fakeTracking, index *fakeIndex) *Evaluator {
	return NewEvaluator(weather, tracking, index, metrics.New(), zerolog.Nop())
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRainThresholdDecision(t *testing.T) {
	weather := &fakeWeather{obs: WeatherObservation{PrecipitationMM: d("60")}}
	eval := newTestEvaluator(weather, &fakeTracking{}, &fakeIndex{})

	cond := Condition{Type: RainThreshold, Latitude: -23.55, Longitude: -46.63, Threshold: d("50")}

	result, err := eval.Evaluate(context.Background(), "esc-1", cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.ConditionMet {
		t.Fatalf("precipitation 60 against threshold 50 must be met")
	}
	if result.CurrentValue != "60" {
		t.Fatalf("expected current value 60, got %s", result.CurrentValue)
	}

	weather.obs.PrecipitationMM = d("40")
	result, err = eval.Evaluate(context.Background(), "esc-1", cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.ConditionMet {
		t.Fatalf("precipitation 40 against threshold 50 must not be met")
	}
	if weather.calls != 2 {
		t.Fatalf("every evaluation must re-fetch the fact, got %d calls", weather.calls)
	}
}

func TestTemperatureThresholdDirections(t *testing.T) {
	weather := &fakeWeather{obs: WeatherObservation{TemperatureC: d("31.5")}}
	eval := newTestEvaluator(weather, &fakeTracking{}, &fakeIndex{})
	ctx := context.Background()

	above := Condition{Type: TemperatureThreshold, Threshold: d("30"), Direction: DirectionAbove}
	result, err := eval.Evaluate(ctx, "esc-2", above)
	if err != nil {
		t.Fatalf("evaluate above: %v", err)
	}
	if !result.ConditionMet {
		t.Fatalf("31.5 above 30 must be met")
	}

	below := Condition{Type: TemperatureThreshold, Threshold: d("30"), Direction: DirectionBelow}
	result, err = eval.Evaluate(ctx, "esc-2", below)
	if err != nil {
		t.Fatalf("evaluate below: %v", err)
	}
	if result.ConditionMet {
		t.Fatalf("31.5 below 30 must not be met")
	}

	missing := Condition{Type: TemperatureThreshold, Threshold: d("30")}
	if _, err := eval.Evaluate(ctx, "esc-2", missing); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault for missing direction, got %v", err)
	}
}

func TestDeliveryConfirmed(t *testing.T) {
	tracking := &fakeTracking{shipment: Shipment{Status: ShipmentDelivered, LastEvent: "delivered to recipient"}}
	eval := newTestEvaluator(&fakeWeather{}, tracking, &fakeIndex{})
	ctx := context.Background()

	cond := Condition{Type: DeliveryConfirmed, TrackingCode: "BR123456789", Carrier: "correios"}
	result, err := eval.Evaluate(ctx, "esc-3", cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.ConditionMet {
		t.Fatalf("delivered shipment must satisfy the condition")
	}
	if tracking.lastCode != "BR123456789" || tracking.lastCarrier != "correios" {
		t.Fatalf("provider received %s/%s", tracking.lastCode, tracking.lastCarrier)
	}

	tracking.shipment.Status = ShipmentInTransit
	result, err = eval.Evaluate(ctx, "esc-3", cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.ConditionMet {
		t.Fatalf("in-transit shipment must not satisfy the condition")
	}

	if _, err := eval.Evaluate(ctx, "esc-3", Condition{Type: DeliveryConfirmed}); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault for missing tracking params, got %v", err)
	}
}

func TestEconomicIndexConditions(t *testing.T) {
	index := &fakeIndex{points: map[string]IndexPoint{
		"IPCA":     {Value: d("5.2")},
		IndexSelic: {Value: d("11.75")},
	}}
	eval := newTestEvaluator(&fakeWeather{}, &fakeTracking{}, index)
	ctx := context.Background()

	result, err := eval.Evaluate(ctx, "esc-4", Condition{Type: InflationAbove, IndexType: "IPCA", Threshold: d("5")})
	if err != nil {
		t.Fatalf("evaluate inflation above: %v", err)
	}
	if !result.ConditionMet {
		t.Fatalf("IPCA 5.2 above 5 must be met")
	}

	result, err = eval.Evaluate(ctx, "esc-4", Condition{Type: InflationBelow, IndexType: "IPCA", Threshold: d("5")})
	if err != nil {
		t.Fatalf("evaluate inflation below: %v", err)
	}
	if result.ConditionMet {
		t.Fatalf("IPCA 5.2 below 5 must not be met")
	}

	result, err = eval.Evaluate(ctx, "esc-4", Condition{Type: SelicAbove, Threshold: d("10")})
	if err != nil {
		t.Fatalf("evaluate selic above: %v", err)
	}
	if !result.ConditionMet {
		t.Fatalf("SELIC 11.75 above 10 must be met")
	}
	if index.lastType != IndexSelic {
		t.Fatalf("SELIC conditions must pin the index type, got %s", index.lastType)
	}

	if _, err := eval.Evaluate(ctx, "esc-4", Condition{Type: InflationAbove, Threshold: d("5")}); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault for missing index type, got %v", err)
	}
}

func TestUnknownConditionType(t *testing.T) {
	eval := newTestEvaluator(&fakeWeather{}, &fakeTracking{}, &fakeIndex{})
	_, err := eval.Evaluate(context.Background(), "esc-5", Condition{Type: "MOON_PHASE"})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestProviderErrorPropagates(t *testing.T) {
	weather := &fakeWeather{err: errors.New("provider timeout")}
	eval := newTestEvaluator(weather, &fakeTracking{}, &fakeIndex{})

	_, err := eval.Evaluate(context.Background(), "esc-6", Condition{Type: RainThreshold, Threshold: d("50")})
	if err == nil {
		t.Fatalf("provider failure must propagate, never default to a guessed decision")
	}
	if !errors.Is(err, weather.err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
