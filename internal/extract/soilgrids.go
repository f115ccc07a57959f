package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

const soilGridsSource = "soilgrids"

// soilProperties are the SoilGrids layer codes the warehouse tracks, 0-5cm
// horizon only.
var soilProperties = []string{"clay", "sand", "silt", "phh2o", "soc", "bdod", "wv0010"}

// SoilGrids extracts point soil properties from the ISRIC SoilGrids v2 API.
type SoilGrids struct {
	apiURL string
	client *client
	log    *slog.Logger
	now    func() time.Time
}

func NewSoilGrids(cfg types.SoilSourceConfig, retry types.RetryPolicy, userAgent string, log *slog.Logger) *SoilGrids {
	if log == nil {
		log = slog.Default()
	}
	return &SoilGrids{
		apiURL: cfg.URL,
		client: newClient(time.Duration(cfg.TimeoutSeconds)*time.Second,
			cfg.RequestsPerSecond, retry, userAgent, log),
		log: log,
		now: time.Now,
	}
}

type soilGridsResponse struct {
	Properties struct {
		Layers []struct {
			Name   string `json:"name"`
			Depths []struct {
				Range struct {
					TopDepth int `json:"top_depth"`
				} `json:"range"`
				Values struct {
					Mean *float64 `json:"mean"`
				} `json:"values"`
			} `json:"depths"`
		} `json:"layers"`
	} `json:"properties"`
}

// topValue returns the mean value of a layer's surface horizon.
func (r *soilGridsResponse) topValue(name string) *float64 {
	for _, layer := range r.Properties.Layers {
		if layer.Name != name {
			continue
		}
		for _, depth := range layer.Depths {
			if depth.Range.TopDepth == 0 {
				return depth.Values.Mean
			}
		}
	}
	return nil
}

// Extract pulls the 0-5cm soil profile for one coordinate pair. SoilGrids
// scales pH and organic carbon by ten on the wire; both are descaled here so
// downstream code only ever sees natural units.
func (s *SoilGrids) Extract(ctx context.Context, lat, lon float64) (types.SoilCandidate, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	q.Set("value", "mean")
	q.Set("depth", "0-5cm")
	for _, prop := range soilProperties {
		q.Add("property", prop)
	}

	var resp soilGridsResponse
	if err := s.client.fetchJSON(ctx, soilGridsSource, s.apiURL+"?"+q.Encode(), &resp); err != nil {
		return types.SoilCandidate{}, fmt.Errorf("soilgrids (%.4f, %.4f): %w", lat, lon, err)
	}

	return types.SoilCandidate{
		Latitude:      lat,
		Longitude:     lon,
		ClayContent:   resp.topValue("clay"),
		SandContent:   resp.topValue("sand"),
		SiltContent:   resp.topValue("silt"),
		PHLevel:       descale(resp.topValue("phh2o")),
		OrganicCarbon: descale(resp.topValue("soc")),
		BulkDensity:   resp.topValue("bdod"),
		WaterCapacity: resp.topValue("wv0010"),
		ExtractedAt:   s.now().UTC(),
	}, nil
}

func descale(v *float64) *float64 {
	if v == nil {
		return nil
	}
	d := *v / 10
	return &d
}
