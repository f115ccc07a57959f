package postgres

import (
	"context"
	"fmt"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// UpsertWeatherFacts bulk-upserts weather facts keyed by (date, location).
// Re-running a batch with corrected values updates rows in place; the whole
// chunk and its fingerprints commit as one transaction.
func (s *Store) UpsertWeatherFacts(ctx context.Context, rows []types.WeatherFactRow, fps []types.Fingerprint) (int64, int64, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted, updated int64
	for _, r := range rows {
		var fresh bool
		err := tx.QueryRow(ctx, `
			INSERT INTO fact_weather (location_key, date_key, latitude, longitude,
				temp_max_c, temp_min_c, temp_mean_c, precipitation_mm,
				evapotranspiration_mm, solar_radiation_mj_m2, humidity_percent,
				wind_speed_ms, weather_code, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (date_key, location_key) DO UPDATE SET
				temp_max_c            = EXCLUDED.temp_max_c,
				temp_min_c            = EXCLUDED.temp_min_c,
				temp_mean_c           = EXCLUDED.temp_mean_c,
				precipitation_mm      = EXCLUDED.precipitation_mm,
				evapotranspiration_mm = EXCLUDED.evapotranspiration_mm,
				solar_radiation_mj_m2 = EXCLUDED.solar_radiation_mj_m2,
				humidity_percent      = EXCLUDED.humidity_percent,
				wind_speed_ms         = EXCLUDED.wind_speed_ms,
				weather_code          = EXCLUDED.weather_code,
				batch_id              = EXCLUDED.batch_id
			RETURNING (xmax = 0)
		`, r.LocationKey, r.DateKey, r.Latitude, r.Longitude,
			r.TempMaxC, r.TempMinC, r.TempMeanC, r.PrecipitationMM,
			r.EvapotranspirationMM, r.SolarRadiationMJ, r.HumidityPercent,
			r.WindSpeedMS, r.WeatherCode, r.BatchID).Scan(&fresh)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert weather fact (%d, %d): %w", r.DateKey, r.LocationKey, err)
		}
		if fresh {
			inserted++
		} else {
			updated++
		}
	}

	for _, fp := range fps {
		if err := registerFingerprint(ctx, tx, fp); err != nil {
			return 0, 0, err
		}
	}
	return inserted, updated, tx.Commit(ctx)
}

// UpsertSoilMeasurements bulk-upserts soil measurement facts.
func (s *Store) UpsertSoilMeasurements(ctx context.Context, rows []types.SoilMeasurementRow, fps []types.Fingerprint) (int64, int64, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted, updated int64
	for _, r := range rows {
		var fresh bool
		err := tx.QueryRow(ctx, `
			INSERT INTO fact_soil_measurement (location_key, date_key, ph_level,
				organic_carbon, bulk_density, water_capacity, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (date_key, location_key) DO UPDATE SET
				ph_level       = EXCLUDED.ph_level,
				organic_carbon = EXCLUDED.organic_carbon,
				bulk_density   = EXCLUDED.bulk_density,
				water_capacity = EXCLUDED.water_capacity,
				batch_id       = EXCLUDED.batch_id
			RETURNING (xmax = 0)
		`, r.LocationKey, r.DateKey, r.PHLevel, r.OrganicCarbon,
			r.BulkDensity, r.WaterCapacity, r.BatchID).Scan(&fresh)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert soil measurement (%d, %d): %w", r.DateKey, r.LocationKey, err)
		}
		if fresh {
			inserted++
		} else {
			updated++
		}
	}

	for _, fp := range fps {
		if err := registerFingerprint(ctx, tx, fp); err != nil {
			return 0, 0, err
		}
	}
	return inserted, updated, tx.Commit(ctx)
}

// UpsertCropSuitability bulk-upserts crop suitability facts.
func (s *Store) UpsertCropSuitability(ctx context.Context, rows []types.CropSuitabilityRow, fps []types.Fingerprint) (int64, int64, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted, updated int64
	for _, r := range rows {
		var fresh bool
		err := tx.QueryRow(ctx, `
			INSERT INTO fact_crop_suitability (crop_key, location_key, date_key,
				suitability_score, batch_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (date_key, location_key, crop_key) DO UPDATE SET
				suitability_score = EXCLUDED.suitability_score,
				batch_id          = EXCLUDED.batch_id
			RETURNING (xmax = 0)
		`, r.CropKey, r.LocationKey, r.DateKey, r.SuitabilityScore, r.BatchID).Scan(&fresh)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert crop suitability (%d, %d, %d): %w", r.DateKey, r.LocationKey, r.CropKey, err)
		}
		if fresh {
			inserted++
		} else {
			updated++
		}
	}

	for _, fp := range fps {
		if err := registerFingerprint(ctx, tx, fp); err != nil {
			return 0, 0, err
		}
	}
	return inserted, updated, tx.Commit(ctx)
}
