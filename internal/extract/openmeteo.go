package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

const openMeteoSource = "open-meteo"

// dailyFields are the Open-Meteo daily aggregates the warehouse tracks.
var dailyFields = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"temperature_2m_mean",
	"precipitation_sum",
	"et0_fao_evapotranspiration",
	"shortwave_radiation_sum",
	"relative_humidity_2m_mean",
	"wind_speed_10m_max",
	"weather_code",
}

// OpenMeteo extracts daily historical weather from the Open-Meteo archive
// API. The free tier needs no key but asks for one request per second.
type OpenMeteo struct {
	archiveURL string
	client     *client
	log        *slog.Logger
}

func NewOpenMeteo(cfg types.WeatherSourceConfig, retry types.RetryPolicy, userAgent string, log *slog.Logger) *OpenMeteo {
	if log == nil {
		log = slog.Default()
	}
	return &OpenMeteo{
		archiveURL: cfg.ArchiveURL,
		client: newClient(time.Duration(cfg.TimeoutSeconds)*time.Second,
			cfg.RequestsPerSecond, retry, userAgent, log),
		log: log,
	}
}

type openMeteoDaily struct {
	Time                 []string   `json:"time"`
	TempMax              []*float64 `json:"temperature_2m_max"`
	TempMin              []*float64 `json:"temperature_2m_min"`
	TempMean             []*float64 `json:"temperature_2m_mean"`
	PrecipitationSum     []*float64 `json:"precipitation_sum"`
	Evapotranspiration   []*float64 `json:"et0_fao_evapotranspiration"`
	ShortwaveRadiation   []*float64 `json:"shortwave_radiation_sum"`
	RelativeHumidityMean []*float64 `json:"relative_humidity_2m_mean"`
	WindSpeedMax         []*float64 `json:"wind_speed_10m_max"`
	WeatherCode          []*int     `json:"weather_code"`
}

type openMeteoResponse struct {
	Daily openMeteoDaily `json:"daily"`
}

// ExtractHistorical pulls one day-per-row weather series for a coordinate
// pair over [startDate, endDate], dates in YYYY-MM-DD.
func (o *OpenMeteo) ExtractHistorical(ctx context.Context, lat, lon float64, startDate, endDate string) ([]types.WeatherCandidate, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.6f", lat))
	q.Set("longitude", fmt.Sprintf("%.6f", lon))
	q.Set("start_date", startDate)
	q.Set("end_date", endDate)
	q.Set("daily", strings.Join(dailyFields, ","))
	q.Set("timezone", "auto")

	var resp openMeteoResponse
	if err := o.client.fetchJSON(ctx, openMeteoSource, o.archiveURL+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("open-meteo (%.4f, %.4f): %w", lat, lon, err)
	}

	daily := resp.Daily
	candidates := make([]types.WeatherCandidate, 0, len(daily.Time))
	for i, date := range daily.Time {
		candidates = append(candidates, types.WeatherCandidate{
			Latitude:             lat,
			Longitude:            lon,
			Date:                 date,
			TempMaxC:             at(daily.TempMax, i),
			TempMinC:             at(daily.TempMin, i),
			TempMeanC:            at(daily.TempMean, i),
			PrecipitationMM:      at(daily.PrecipitationSum, i),
			EvapotranspirationMM: at(daily.Evapotranspiration, i),
			SolarRadiationMJ:     at(daily.ShortwaveRadiation, i),
			HumidityPercent:      at(daily.RelativeHumidityMean, i),
			WindSpeedMS:          at(daily.WindSpeedMax, i),
			WeatherCode:          at(daily.WeatherCode, i),
		})
	}
	o.log.Debug("weather series extracted",
		"lat", lat, "lon", lon, "days", len(candidates))
	return candidates, nil
}

// at guards against ragged response arrays.
func at[T any](arr []*T, i int) *T {
	if i < len(arr) {
		return arr[i]
	}
	return nil
}
