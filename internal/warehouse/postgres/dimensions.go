package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

const locationColumns = `location_key, latitude, longitude, country_code, country_name,
	admin_region, climate_zone, elevation_m, location_hash,
	effective_date, expiration_date, is_current`

// CurrentLocation returns the current SCD2 version for a location hash, or
// nil when the hash is unknown.
func (s *Store) CurrentLocation(ctx context.Context, locationHash string) (*types.LocationRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+locationColumns+`
		FROM dim_location
		WHERE location_hash = $1 AND is_current
	`, locationHash)

	loc, err := scanLocation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current location: %w", err)
	}
	return loc, nil
}

// InsertLocation opens the first version for a location hash. The fingerprint
// registration commits in the same transaction as the insert.
func (s *Store) InsertLocation(ctx context.Context, row types.LocationRow, fp types.Fingerprint) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var key int64
	err = tx.QueryRow(ctx, `
		INSERT INTO dim_location (latitude, longitude, country_code, country_name,
			admin_region, climate_zone, elevation_m, location_hash,
			effective_date, expiration_date, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '9999-12-31', TRUE)
		RETURNING location_key
	`, row.Latitude, row.Longitude, row.CountryCode, row.CountryName,
		row.AdminRegion, row.ClimateZone, row.ElevationM, row.LocationHash,
		row.EffectiveDate).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("insert location: %w", err)
	}

	if err := registerFingerprint(ctx, tx, fp); err != nil {
		return 0, err
	}
	return key, tx.Commit(ctx)
}

// RotateLocation expires the current version and opens a new one in a single
// transaction: the close, the open and the fingerprint registration are never
// partially visible.
func (s *Store) RotateLocation(ctx context.Context, currentKey int64, row types.LocationRow, fp types.Fingerprint) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE dim_location
		SET expiration_date = $2::date - 1, is_current = FALSE
		WHERE location_key = $1 AND is_current
	`, currentKey, row.EffectiveDate)
	if err != nil {
		return 0, fmt.Errorf("expire location version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("expire location version: key %d is not current", currentKey)
	}

	var key int64
	err = tx.QueryRow(ctx, `
		INSERT INTO dim_location (latitude, longitude, country_code, country_name,
			admin_region, climate_zone, elevation_m, location_hash,
			effective_date, expiration_date, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '9999-12-31', TRUE)
		RETURNING location_key
	`, row.Latitude, row.Longitude, row.CountryCode, row.CountryName,
		row.AdminRegion, row.ClimateZone, row.ElevationM, row.LocationHash,
		row.EffectiveDate).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("open location version: %w", err)
	}

	if err := registerFingerprint(ctx, tx, fp); err != nil {
		return 0, err
	}
	return key, tx.Commit(ctx)
}

// LocationVersions returns all SCD2 versions for a hash ordered by effective date.
func (s *Store) LocationVersions(ctx context.Context, locationHash string) ([]types.LocationRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+locationColumns+`
		FROM dim_location
		WHERE location_hash = $1
		ORDER BY effective_date
	`, locationHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []types.LocationRow
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *loc)
	}
	return versions, rows.Err()
}

// UpsertSoilProfile writes a Type-1 soil dimension row, overwriting changed
// attributes in place for an existing (location, extraction date) key.
func (s *Store) UpsertSoilProfile(ctx context.Context, row types.SoilProfileRow, fp types.Fingerprint) (int64, bool, error) {
	metaJSON, err := json.Marshal(row.Metadata)
	if err != nil {
		return 0, false, fmt.Errorf("marshal soil metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		key      int64
		inserted bool
	)
	err = tx.QueryRow(ctx, `
		INSERT INTO dim_soil (location_key, soil_texture, clay_content, sand_content,
			silt_content, ph_level, organic_carbon, bulk_density, water_capacity,
			soil_depth_cm, extraction_date, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (location_key, extraction_date) DO UPDATE SET
			soil_texture   = EXCLUDED.soil_texture,
			clay_content   = EXCLUDED.clay_content,
			sand_content   = EXCLUDED.sand_content,
			silt_content   = EXCLUDED.silt_content,
			ph_level       = EXCLUDED.ph_level,
			organic_carbon = EXCLUDED.organic_carbon,
			bulk_density   = EXCLUDED.bulk_density,
			water_capacity = EXCLUDED.water_capacity,
			metadata       = EXCLUDED.metadata
		RETURNING soil_key, (xmax = 0)
	`, row.LocationKey, row.SoilTexture, row.ClayContent, row.SandContent,
		row.SiltContent, row.PHLevel, row.OrganicCarbon, row.BulkDensity,
		row.WaterCapacity, row.SoilDepthCM, row.ExtractionDate, metaJSON).Scan(&key, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert soil profile: %w", err)
	}

	if err := registerFingerprint(ctx, tx, fp); err != nil {
		return 0, false, err
	}
	return key, inserted, tx.Commit(ctx)
}

// LatestSoilProfile returns the most recently extracted soil profile for a
// location, or nil when none has been sampled.
func (s *Store) LatestSoilProfile(ctx context.Context, locationKey int64) (*types.SoilProfileRow, error) {
	var (
		p        types.SoilProfileRow
		metaJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT soil_key, location_key, soil_texture, clay_content, sand_content,
			silt_content, ph_level, organic_carbon, bulk_density, water_capacity,
			soil_depth_cm, extraction_date, metadata
		FROM dim_soil
		WHERE location_key = $1
		ORDER BY extraction_date DESC
		LIMIT 1
	`, locationKey).Scan(&p.SoilKey, &p.LocationKey, &p.SoilTexture,
		&p.ClayContent, &p.SandContent, &p.SiltContent, &p.PHLevel,
		&p.OrganicCarbon, &p.BulkDensity, &p.WaterCapacity,
		&p.SoilDepthCM, &p.ExtractionDate, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest soil profile: %w", err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &p.Metadata)
	}
	return &p, nil
}

// GetCrop returns the crop dimension row for a name, or nil when absent.
func (s *Store) GetCrop(ctx context.Context, cropName string) (*types.CropRow, error) {
	var c types.CropRow
	err := s.pool.QueryRow(ctx, `
		SELECT crop_key, crop_name, optimal_temp_min_c, optimal_temp_max_c,
			water_requirement_mm_day, sunlight_hours_min, sunlight_hours_max,
			soil_ph_preference_min, soil_ph_preference_max,
			extraction_confidence, extraction_date, source_urls
		FROM dim_crop
		WHERE crop_name = $1
	`, cropName).Scan(&c.CropKey, &c.CropName, &c.OptimalTempMinC, &c.OptimalTempMaxC,
		&c.WaterRequirementMM, &c.SunlightHoursMin, &c.SunlightHoursMax,
		&c.SoilPHMin, &c.SoilPHMax, &c.ExtractionConfidence, &c.ExtractionDate, &c.SourceURLs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get crop: %w", err)
	}
	return &c, nil
}

// ListCrops returns every crop dimension row ordered by name.
func (s *Store) ListCrops(ctx context.Context) ([]types.CropRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT crop_key, crop_name, optimal_temp_min_c, optimal_temp_max_c,
			water_requirement_mm_day, sunlight_hours_min, sunlight_hours_max,
			soil_ph_preference_min, soil_ph_preference_max,
			extraction_confidence, extraction_date, source_urls
		FROM dim_crop
		ORDER BY crop_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crops []types.CropRow
	for rows.Next() {
		var c types.CropRow
		err := rows.Scan(&c.CropKey, &c.CropName, &c.OptimalTempMinC, &c.OptimalTempMaxC,
			&c.WaterRequirementMM, &c.SunlightHoursMin, &c.SunlightHoursMax,
			&c.SoilPHMin, &c.SoilPHMax, &c.ExtractionConfidence, &c.ExtractionDate, &c.SourceURLs)
		if err != nil {
			return nil, err
		}
		crops = append(crops, c)
	}
	return crops, rows.Err()
}

// UpsertCrop writes a Type-1 crop dimension row keyed by crop name.
func (s *Store) UpsertCrop(ctx context.Context, row types.CropRow, fp types.Fingerprint) (int64, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		key      int64
		inserted bool
	)
	err = tx.QueryRow(ctx, `
		INSERT INTO dim_crop (crop_name, optimal_temp_min_c, optimal_temp_max_c,
			water_requirement_mm_day, sunlight_hours_min, sunlight_hours_max,
			soil_ph_preference_min, soil_ph_preference_max,
			extraction_confidence, extraction_date, source_urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (crop_name) DO UPDATE SET
			optimal_temp_min_c       = EXCLUDED.optimal_temp_min_c,
			optimal_temp_max_c       = EXCLUDED.optimal_temp_max_c,
			water_requirement_mm_day = EXCLUDED.water_requirement_mm_day,
			sunlight_hours_min       = EXCLUDED.sunlight_hours_min,
			sunlight_hours_max       = EXCLUDED.sunlight_hours_max,
			soil_ph_preference_min   = EXCLUDED.soil_ph_preference_min,
			soil_ph_preference_max   = EXCLUDED.soil_ph_preference_max,
			extraction_confidence    = EXCLUDED.extraction_confidence,
			extraction_date          = EXCLUDED.extraction_date,
			source_urls              = EXCLUDED.source_urls
		RETURNING crop_key, (xmax = 0)
	`, row.CropName, row.OptimalTempMinC, row.OptimalTempMaxC,
		row.WaterRequirementMM, row.SunlightHoursMin, row.SunlightHoursMax,
		row.SoilPHMin, row.SoilPHMax, row.ExtractionConfidence,
		row.ExtractionDate, row.SourceURLs).Scan(&key, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert crop: %w", err)
	}

	if err := registerFingerprint(ctx, tx, fp); err != nil {
		return 0, false, err
	}
	return key, inserted, tx.Commit(ctx)
}

func scanLocation(row pgx.Row) (*types.LocationRow, error) {
	var loc types.LocationRow
	err := row.Scan(&loc.LocationKey, &loc.Latitude, &loc.Longitude,
		&loc.CountryCode, &loc.CountryName, &loc.AdminRegion,
		&loc.ClimateZone, &loc.ElevationM, &loc.LocationHash,
		&loc.EffectiveDate, &loc.ExpirationDate, &loc.IsCurrent)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
