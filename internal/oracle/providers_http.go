package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const defaultProviderTimeout = 10 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &http.Client{Timeout: timeout}
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPWeatherProvider reads current conditions from an open-meteo style API.
type HTTPWeatherProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPWeatherProvider(baseURL string, timeout time.Duration) (*HTTPWeatherProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("weather provider url is required")
	}
	return &HTTPWeatherProvider{baseURL: baseURL, client: newHTTPClient(timeout)}, nil
}

func (p *HTTPWeatherProvider) Current(ctx context.Context, lat, lng float64) (WeatherObservation, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("current", "precipitation,temperature_2m")

	var payload struct {
		Current struct {
			Time          string          `json:"time"`
			Precipitation decimal.Decimal `json:"precipitation"`
			Temperature   decimal.Decimal `json:"temperature_2m"`
		} `json:"current"`
	}
	if err := getJSON(ctx, p.client, p.baseURL+"/v1/forecast?"+q.Encode(), &payload); err != nil {
		return WeatherObservation{}, fmt.Errorf("weather lookup: %w", err)
	}

	observedAt, _ := time.Parse("2006-01-02T15:04", payload.Current.Time)
	return WeatherObservation{
		PrecipitationMM: payload.Current.Precipitation,
		TemperatureC:    payload.Current.Temperature,
		ObservedAt:      observedAt,
	}, nil
}

// HTTPTrackingProvider resolves shipment status from a carrier-tracking API.
type HTTPTrackingProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPTrackingProvider(baseURL, apiKey string, timeout time.Duration) (*HTTPTrackingProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("tracking provider url is required")
	}
	return &HTTPTrackingProvider{baseURL: baseURL, apiKey: apiKey, client: newHTTPClient(timeout)}, nil
}

func (p *HTTPTrackingProvider) Track(ctx context.Context, trackingCode, carrier string) (Shipment, error) {
	q := url.Values{}
	q.Set("code", trackingCode)
	q.Set("carrier", carrier)
	if p.apiKey != "" {
		q.Set("apiKey", p.apiKey)
	}

	var payload struct {
		Status    string    `json:"status"`
		LastEvent string    `json:"lastEvent"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := getJSON(ctx, p.client, p.baseURL+"/v1/track?"+q.Encode(), &payload); err != nil {
		return Shipment{}, fmt.Errorf("tracking lookup %s/%s: %w", carrier, trackingCode, err)
	}

	return Shipment{
		Status:    ShipmentStatus(payload.Status),
		LastEvent: payload.LastEvent,
		UpdatedAt: payload.UpdatedAt,
	}, nil
}

// HTTPIndexProvider reads economic time series from a BCB SGS style API.
type HTTPIndexProvider struct {
	baseURL string
	client  *http.Client
}

// seriesCodes maps index types to their SGS series.
var seriesCodes = map[string]int{
	IndexSelic: 432,
	"IPCA":     433,
	"IGPM":     189,
}

func NewHTTPIndexProvider(baseURL string, timeout time.Duration) (*HTTPIndexProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("index provider url is required")
	}
	return &HTTPIndexProvider{baseURL: baseURL, client: newHTTPClient(timeout)}, nil
}

func (p *HTTPIndexProvider) Latest(ctx context.Context, indexType string) (IndexPoint, error) {
	code, ok := seriesCodes[indexType]
	if !ok {
		return IndexPoint{}, fmt.Errorf("no series configured for index type %s", indexType)
	}

	var payload []struct {
		Date  string `json:"data"`
		Value string `json:"valor"`
	}
	endpoint := fmt.Sprintf("%s/dados/serie/bcdata.sgs.%d/dados/ultimos/1?formato=json", p.baseURL, code)
	if err := getJSON(ctx, p.client, endpoint, &payload); err != nil {
		return IndexPoint{}, fmt.Errorf("index lookup %s: %w", indexType, err)
	}
	if len(payload) == 0 {
		return IndexPoint{}, fmt.Errorf("index %s has no published values", indexType)
	}

	value, err := decimal.NewFromString(payload[0].Value)
	if err != nil {
		return IndexPoint{}, fmt.Errorf("parse index value %q: %w", payload[0].Value, err)
	}
	referenceDate, _ := time.Parse("02/01/2006", payload[0].Date)
	return IndexPoint{Value: value, ReferenceDate: referenceDate}, nil
}
