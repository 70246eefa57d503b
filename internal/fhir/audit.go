// Package fhir scores clinical facility energy efficiency against
// EnergyStar-aligned benchmarks and emits FHIR R4 Observation records.
// The remote Observation POST is best-effort and disabled in demo mode.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Benchmark is an EnergyStar-aligned annual kWh/sqft profile.
type Benchmark struct {
	FacilityType     string  `json:"facility_type"`
	AvgKWhPerSqft    float64 `json:"avg_kwh_per_sqft"`
	TargetKWhPerSqft float64 `json:"target_kwh_per_sqft"`
	TopQuartileKWh   float64 `json:"top_quartile_kwh"`
}

var benchmarks = map[string]Benchmark{
	"hospital":    {FacilityType: "hospital", AvgKWhPerSqft: 26, TargetKWhPerSqft: 21, TopQuartileKWh: 18},
	"clinic":      {FacilityType: "clinic", AvgKWhPerSqft: 18, TargetKWhPerSqft: 14, TopQuartileKWh: 11},
	"data_center": {FacilityType: "data_center", AvgKWhPerSqft: 100, TargetKWhPerSqft: 75, TopQuartileKWh: 60},
}

// BenchmarkFor returns the benchmark for a facility type, defaulting to
// hospital.
func BenchmarkFor(facilityType string) Benchmark {
	if b, ok := benchmarks[facilityType]; ok {
		return b
	}
	return benchmarks["hospital"]
}

// Observation is a minimal FHIR R4 Observation resource.
type Observation struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	Code              string    `json:"code"`
	ValueQuantity     float64   `json:"value_quantity"`
	Unit              string    `json:"unit"`
	EffectiveDateTime time.Time `json:"effective_date_time"`
	SubjectReference  string    `json:"subject_reference"`
}

// Audit is the result of a clinical energy efficiency review.
type Audit struct {
	FacilityID            string        `json:"facility_id"`
	FacilityType          string        `json:"facility_type"`
	EnergyEfficiencyScore float64       `json:"energy_efficiency_score"`
	BenchmarkPercentile   int           `json:"benchmark_percentile"`
	Observations          []Observation `json:"observations"`
	Recommendations       []string      `json:"recommendations"`
	ComplianceStatus      string        `json:"compliance_status"`
	Timestamp             time.Time     `json:"timestamp"`
}

// Client audits facilities and optionally posts observations to a FHIR
// server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an audit client. An empty baseURL disables remote
// posting entirely.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

// AuditEnergy scores per-sqft annualized consumption against the
// facility benchmark and caps the emitted observation set at 5 readings.
func (c *Client) AuditEnergy(facilityID string, readings []float64, facilityType string, sqft float64) Audit {
	now := time.Now().UTC()
	benchmark := BenchmarkFor(facilityType)

	var sum float64
	for _, r := range readings {
		sum += r
	}
	avgKWh := sum / float64(max(len(readings), 1))
	if sqft < 1 {
		sqft = 1
	}
	kwhPerSqft := avgKWh / sqft * 8760

	var score float64
	var percentile int
	switch {
	case kwhPerSqft <= benchmark.TopQuartileKWh:
		score, percentile = 95, 90
	case kwhPerSqft <= benchmark.TargetKWhPerSqft:
		score, percentile = 75, 60
	case kwhPerSqft <= benchmark.AvgKWhPerSqft:
		score, percentile = 50, 40
	default:
		ratio := kwhPerSqft / benchmark.AvgKWhPerSqft
		score = math.Max(100-ratio*50, 5)
		percentile = max(100-int(ratio*40), 5)
	}

	var recommendations []string
	if score < 50 {
		recommendations = append(recommendations,
			"Schedule HVAC efficiency review within 30 days.",
			"Consider LED lighting retrofit for surgical suites.")
	}
	if score < 75 {
		recommendations = append(recommendations,
			"Implement occupancy-based climate control in non-critical areas.")
	}

	capped := readings
	if len(capped) > 5 {
		capped = capped[:5]
	}
	observations := make([]Observation, 0, len(capped))
	for _, r := range capped {
		observations = append(observations, Observation{
			ID:                uuid.NewString(),
			Status:            "final",
			Code:              "energy-efficiency",
			ValueQuantity:     r,
			Unit:              "kWh",
			EffectiveDateTime: now,
			SubjectReference:  "Location/" + facilityID,
		})
	}

	status := "compliant"
	if score < 50 {
		status = "review_required"
	}
	return Audit{
		FacilityID:            facilityID,
		FacilityType:          benchmark.FacilityType,
		EnergyEfficiencyScore: math.Round(score*10) / 10,
		BenchmarkPercentile:   percentile,
		Observations:          observations,
		Recommendations:       recommendations,
		ComplianceStatus:      status,
		Timestamp:             now,
	}
}

// PostObservation best-effort pushes an observation to the FHIR server.
// Failures are logged at debug and swallowed.
func (c *Client) PostObservation(ctx context.Context, obs Observation) {
	if c.baseURL == "" {
		return
	}
	body, err := json.Marshal(map[string]any{
		"resourceType":      "Observation",
		"id":                obs.ID,
		"status":            obs.Status,
		"code":              map[string]any{"coding": []map[string]string{{"system": "http://ecoverify.io/codes", "code": obs.Code}}},
		"valueQuantity":     map[string]any{"value": obs.ValueQuantity, "unit": obs.Unit},
		"effectiveDateTime": obs.EffectiveDateTime.Format(time.RFC3339),
		"subject":           map[string]string{"reference": obs.SubjectReference},
	})
	if err != nil {
		c.logger.Debug("fhir observation marshal failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Observation", bytes.NewReader(body))
	if err != nil {
		c.logger.Debug("fhir request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("fhir server unavailable", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		c.logger.Info("fhir observation created", "id", obs.ID)
	} else {
		c.logger.Warn("fhir post rejected", "status", resp.StatusCode)
	}
}
