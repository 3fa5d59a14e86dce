package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"custodia/internal/fault"
	"custodia/internal/metrics"
)

type handlerFunc func(ctx context.Context, c Condition) (currentValue string, met bool, message string, err error)

// Evaluator answers "is condition C with parameters P currently true?" with
// supporting evidence. It is advisory only and never mutates escrow state.
type Evaluator struct {
	weather  WeatherProvider
	tracking TrackingProvider
	index    IndexProvider
	handlers map[Type]handlerFunc
	metrics  *metrics.Set
	log      zerolog.Logger
}

func NewEvaluator(weather WeatherProvider, tracking TrackingProvider, index IndexProvider, set *metrics.Set, log zerolog.Logger) *Evaluator {
	e := &Evaluator{
		weather:  weather,
		tracking: tracking,
		index:    index,
		metrics:  set,
		log:      log.With().Str("component", "oracle").Logger(),
	}
	// One handler per condition kind; new kinds are additive entries here.
	e.handlers = map[Type]handlerFunc{
		RainThreshold:        e.evalRain,
		TemperatureThreshold: e.evalTemperature,
		DeliveryConfirmed:    e.evalDelivery,
		InflationAbove:       e.evalIndexAbove,
		InflationBelow:       e.evalIndexBelow,
		SelicAbove:           e.pinnedToSelic(e.evalIndexAbove),
		SelicBelow:           e.pinnedToSelic(e.evalIndexBelow),
	}
	return e
}

// Evaluate re-fetches the underlying fact and returns the full decision
// record. Provider failures propagate as errors; a stale or fabricated value
// is never substituted.
func (e *Evaluator) Evaluate(ctx context.Context, escrowID string, c Condition) (Result, error) {
	handler, ok := e.handlers[c.Type]
	if !ok {
		e.metrics.IncOracleCheck(string(c.Type), "rejected")
		return Result{}, fault.Validation("unknown condition type %q", c.Type)
	}

	currentValue, met, message, err := handler(ctx, c)
	if err != nil {
		e.metrics.IncOracleCheck(string(c.Type), "error")
		return Result{}, err
	}

	outcome := "not_met"
	if met {
		outcome = "met"
	}
	e.metrics.IncOracleCheck(string(c.Type), outcome)
	e.log.Info().
		Str("escrow_id", escrowID).
		Str("condition", string(c.Type)).
		Bool("met", met).
		Str("current_value", currentValue).
		Msg("condition evaluated")

	return Result{
		EscrowID:     escrowID,
		Condition:    c,
		ConditionMet: met,
		CurrentValue: currentValue,
		Threshold:    c.Threshold,
		Message:      message,
		CheckedAt:    time.Now().UTC(),
	}, nil
}

func (e *Evaluator) evalRain(ctx context.Context, c Condition) (string, bool, string, error) {
	if e.weather == nil {
		return "", false, "", fmt.Errorf("weather provider is not configured")
	}
	obs, err := e.weather.Current(ctx, c.Latitude, c.Longitude)
	if err != nil {
		return "", false, "", err
	}
	met := obs.PrecipitationMM.GreaterThanOrEqual(c.Threshold)
	msg := fmt.Sprintf("observed precipitation %smm against threshold %smm", obs.PrecipitationMM, c.Threshold)
	return obs.PrecipitationMM.String(), met, msg, nil
}

func (e *Evaluator) evalTemperature(ctx context.Context, c Condition) (string, bool, string, error) {
	if c.Direction != DirectionAbove && c.Direction != DirectionBelow {
		return "", false, "", fault.Validation("temperature direction must be %q or %q", DirectionAbove, DirectionBelow)
	}
	if e.weather == nil {
		return "", false, "", fmt.Errorf("weather provider is not configured")
	}
	obs, err := e.weather.Current(ctx, c.Latitude, c.Longitude)
	if err != nil {
		return "", false, "", err
	}
	var met bool
	if c.Direction == DirectionAbove {
		met = obs.TemperatureC.GreaterThanOrEqual(c.Threshold)
	} else {
		met = obs.TemperatureC.LessThanOrEqual(c.Threshold)
	}
	msg := fmt.Sprintf("observed temperature %s°C, threshold %s°C (%s)", obs.TemperatureC, c.Threshold, c.Direction)
	return obs.TemperatureC.String(), met, msg, nil
}

func (e *Evaluator) evalDelivery(ctx context.Context, c Condition) (string, bool, string, error) {
	if c.TrackingCode == "" || c.Carrier == "" {
		return "", false, "", fault.Validation("tracking code and carrier are required")
	}
	if e.tracking == nil {
		return "", false, "", fmt.Errorf("tracking provider is not configured")
	}
	shipment, err := e.tracking.Track(ctx, c.TrackingCode, c.Carrier)
	if err != nil {
		return "", false, "", err
	}
	met := shipment.Status == ShipmentDelivered
	msg := fmt.Sprintf("shipment %s via %s is %s", c.TrackingCode, c.Carrier, shipment.Status)
	if shipment.LastEvent != "" {
		msg += ": " + shipment.LastEvent
	}
	return string(shipment.Status), met, msg, nil
}

func (e *Evaluator) evalIndexAbove(ctx context.Context, c Condition) (string, bool, string, error) {
	point, err := e.latestIndex(ctx, c)
	if err != nil {
		return "", false, "", err
	}
	met := point.Value.GreaterThanOrEqual(c.Threshold)
	msg := fmt.Sprintf("%s is %s, threshold %s (above)", c.IndexType, point.Value, c.Threshold)
	return point.Value.String(), met, msg, nil
}

func (e *Evaluator) evalIndexBelow(ctx context.Context, c Condition) (string, bool, string, error) {
	point, err := e.latestIndex(ctx, c)
	if err != nil {
		return "", false, "", err
	}
	met := point.Value.LessThanOrEqual(c.Threshold)
	msg := fmt.Sprintf("%s is %s, threshold %s (below)", c.IndexType, point.Value, c.Threshold)
	return point.Value.String(), met, msg, nil
}

func (e *Evaluator) latestIndex(ctx context.Context, c Condition) (IndexPoint, error) {
	if c.IndexType == "" {
		return IndexPoint{}, fault.Validation("index type is required")
	}
	if e.index == nil {
		return IndexPoint{}, fmt.Errorf("index provider is not configured")
	}
	return e.index.Latest(ctx, c.IndexType)
}

// pinnedToSelic fixes the index type before delegating.
func (e *Evaluator) pinnedToSelic(next handlerFunc) handlerFunc {
	return func(ctx context.Context, c Condition) (string, bool, string, error) {
		c.IndexType = IndexSelic
		return next(ctx, c)
	}
}
