package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS etl_audit_log (
    batch_id          TEXT PRIMARY KEY,
    pipeline_name     TEXT NOT NULL,
    status            TEXT NOT NULL,
    records_processed BIGINT NOT NULL DEFAULT 0,
    records_inserted  BIGINT NOT NULL DEFAULT 0,
    records_updated   BIGINT NOT NULL DEFAULT 0,
    records_skipped   BIGINT NOT NULL DEFAULT 0,
    records_failed    BIGINT NOT NULL DEFAULT 0,
    error_message     TEXT,
    metadata          JSONB,
    start_time        TIMESTAMPTZ NOT NULL,
    end_time          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_audit_status ON etl_audit_log (status);
CREATE INDEX IF NOT EXISTS idx_audit_start_time ON etl_audit_log (start_time);

CREATE TABLE IF NOT EXISTS etl_idempotency_keys (
    key_hash    TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_key  TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_idempotency_entity ON etl_idempotency_keys (entity_type, entity_key);

CREATE TABLE IF NOT EXISTS dim_location (
    location_key    BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    latitude        DOUBLE PRECISION NOT NULL,
    longitude       DOUBLE PRECISION NOT NULL,
    country_code    TEXT,
    country_name    TEXT,
    admin_region    TEXT,
    climate_zone    TEXT,
    elevation_m     DOUBLE PRECISION,
    location_hash   TEXT NOT NULL,
    effective_date  DATE NOT NULL,
    expiration_date DATE NOT NULL DEFAULT '9999-12-31',
    is_current      BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_location_current
    ON dim_location (location_hash) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_location_hash ON dim_location (location_hash);

CREATE TABLE IF NOT EXISTS dim_soil (
    soil_key         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    location_key     BIGINT NOT NULL REFERENCES dim_location (location_key),
    soil_texture     TEXT,
    clay_content     DOUBLE PRECISION,
    sand_content     DOUBLE PRECISION,
    silt_content     DOUBLE PRECISION,
    ph_level         DOUBLE PRECISION,
    organic_carbon   DOUBLE PRECISION,
    bulk_density     DOUBLE PRECISION,
    water_capacity   DOUBLE PRECISION,
    soil_depth_cm    INTEGER NOT NULL DEFAULT 5,
    extraction_date  DATE NOT NULL,
    metadata         JSONB,
    UNIQUE (location_key, extraction_date)
);

CREATE TABLE IF NOT EXISTS dim_crop (
    crop_key                 BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    crop_name                TEXT NOT NULL UNIQUE,
    optimal_temp_min_c       DOUBLE PRECISION,
    optimal_temp_max_c       DOUBLE PRECISION,
    water_requirement_mm_day DOUBLE PRECISION,
    sunlight_hours_min       DOUBLE PRECISION,
    sunlight_hours_max       DOUBLE PRECISION,
    soil_ph_preference_min   DOUBLE PRECISION,
    soil_ph_preference_max   DOUBLE PRECISION,
    extraction_confidence    DOUBLE PRECISION NOT NULL,
    extraction_date          DATE NOT NULL,
    source_urls              TEXT[]
);

CREATE TABLE IF NOT EXISTS dim_date (
    date_key    INTEGER PRIMARY KEY,
    full_date   DATE NOT NULL,
    year        INTEGER NOT NULL,
    quarter     INTEGER NOT NULL,
    month       INTEGER NOT NULL,
    day         INTEGER NOT NULL,
    day_of_week INTEGER NOT NULL,
    is_weekend  BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_weather (
    location_key          BIGINT NOT NULL REFERENCES dim_location (location_key),
    date_key              INTEGER NOT NULL,
    latitude              DOUBLE PRECISION NOT NULL,
    longitude             DOUBLE PRECISION NOT NULL,
    temp_max_c            DOUBLE PRECISION,
    temp_min_c            DOUBLE PRECISION,
    temp_mean_c           DOUBLE PRECISION,
    precipitation_mm      DOUBLE PRECISION,
    evapotranspiration_mm DOUBLE PRECISION,
    solar_radiation_mj_m2 DOUBLE PRECISION,
    humidity_percent      DOUBLE PRECISION,
    wind_speed_ms         DOUBLE PRECISION,
    weather_code          INTEGER,
    batch_id              TEXT NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (date_key, location_key)
) PARTITION BY RANGE (date_key);

CREATE TABLE IF NOT EXISTS fact_soil_measurement (
    location_key   BIGINT NOT NULL REFERENCES dim_location (location_key),
    date_key       INTEGER NOT NULL REFERENCES dim_date (date_key),
    ph_level       DOUBLE PRECISION,
    organic_carbon DOUBLE PRECISION,
    bulk_density   DOUBLE PRECISION,
    water_capacity DOUBLE PRECISION,
    batch_id       TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (date_key, location_key)
);

CREATE TABLE IF NOT EXISTS fact_crop_suitability (
    crop_key          BIGINT NOT NULL REFERENCES dim_crop (crop_key),
    location_key      BIGINT NOT NULL REFERENCES dim_location (location_key),
    date_key          INTEGER NOT NULL REFERENCES dim_date (date_key),
    suitability_score DOUBLE PRECISION NOT NULL,
    batch_id          TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (date_key, location_key, crop_key)
);
`
