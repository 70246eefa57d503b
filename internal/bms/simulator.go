// Package bms simulates building-management-system telemetry: hourly
// energy and water readings with a sinusoidal day/night baseline,
// Gaussian noise, and operator-injected anomaly spikes.
package bms

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Reading is one hourly sample. Value is kWh for energy, gallons for
// water. AnomalyScore is 0..1.
type Reading struct {
	Timestamp    time.Time `json:"timestamp"`
	Value        float64   `json:"value"`
	AnomalyScore float64   `json:"anomaly_score"`
}

// Summary aggregates a telemetry window.
type Summary struct {
	Avg          float64 `json:"avg"`
	Peak         float64 `json:"peak"`
	AnomalyCount int     `json:"anomaly_count"`
	Total        float64 `json:"total"`
	HoursSampled int     `json:"hours_sampled"`
}

// Telemetry is a full response for one building and metric.
type Telemetry struct {
	BuildingID string    `json:"building_id"`
	Metric     string    `json:"metric"`
	Readings   []Reading `json:"readings"`
	Summary    Summary   `json:"summary"`
}

// InjectReceipt confirms a queued anomaly spike.
type InjectReceipt struct {
	Status     string  `json:"status"`
	BuildingID string  `json:"building_id"`
	Severity   float64 `json:"severity"`
	Message    string  `json:"message"`
}

// Simulator generates telemetry. Injected anomalies are keyed by
// building id for energy and "<building>:water" for water; each
// injection is consumed by the next fetch for that key. Safe for
// concurrent use.
type Simulator struct {
	mu       sync.Mutex
	injected map[string]float64
	rng      *rand.Rand
	now      func() time.Time
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSeed makes the noise stream reproducible, for tests.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator creates a telemetry simulator.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		injected: make(map[string]float64),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inject queues an energy anomaly spike for buildingID and a correlated
// water spike at 0.8x severity. Severity is clamped to [0, 1].
func (s *Simulator) Inject(buildingID string, severity float64) InjectReceipt {
	clamped := math.Max(0, math.Min(1, severity))
	s.mu.Lock()
	s.injected[buildingID] = clamped
	s.injected[buildingID+":water"] = clamped * 0.8
	s.mu.Unlock()
	return InjectReceipt{
		Status:     "injected",
		BuildingID: buildingID,
		Severity:   clamped,
		Message:    fmt.Sprintf("Anomaly spike (%.0f%%) queued for building %s.", clamped*100, buildingID),
	}
}

func (s *Simulator) consume(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sev := s.injected[key]
	delete(s.injected, key)
	return sev
}

// Energy returns hourly kWh telemetry for a building. The baseline
// peaks near 180 kWh at 14:00 and troughs near 80 kWh at 03:00; any
// pending injection spikes the last 3 readings.
func (s *Simulator) Energy(buildingID string, hours int) Telemetry {
	if hours <= 0 {
		hours = 24
	}
	severity := s.consume(buildingID)
	now := s.now().UTC()

	readings := make([]Reading, 0, hours)
	var total float64
	anomalies := 0
	for i := 0; i < hours; i++ {
		ts := now.Add(-time.Duration(hours-1-i) * time.Hour)
		baseline := 130 + 50*math.Sin(float64(ts.Hour()-3)*math.Pi/12)
		kwh := math.Max(0, baseline+s.gauss(0, 8))

		score := 0.0
		if severity > 0 && i >= hours-3 {
			kwh += baseline * severity * s.uniform(0.8, 1.2)
			score = math.Min(1, 0.5+severity*0.4)
		} else if kwh > baseline*1.15 {
			score = math.Min(1, (kwh-baseline)/baseline)
		}
		if score > 0.3 {
			anomalies++
		}
		total += kwh
		readings = append(readings, Reading{Timestamp: ts, Value: round2(kwh), AnomalyScore: round3(score)})
	}

	return Telemetry{
		BuildingID: buildingID,
		Metric:     "energy_kwh",
		Readings:   readings,
		Summary:    summarize(readings, anomalies, total, hours),
	}
}

// Water returns hourly gallon telemetry. Usage peaks during business
// hours; the injection key is "<building>:water".
func (s *Simulator) Water(buildingID string, hours int) Telemetry {
	if hours <= 0 {
		hours = 24
	}
	severity := s.consume(buildingID + ":water")
	now := s.now().UTC()

	readings := make([]Reading, 0, hours)
	var total float64
	anomalies := 0
	for i := 0; i < hours; i++ {
		ts := now.Add(-time.Duration(hours-1-i) * time.Hour)
		hour := ts.Hour()
		var baseline float64
		if hour >= 8 && hour <= 18 {
			baseline = 450 + 100*math.Sin(float64(hour-8)*math.Pi/10)
		} else {
			baseline = 120 + s.gauss(0, 15)
		}
		gallons := math.Max(0, baseline+s.gauss(0, 20))

		score := 0.0
		if severity > 0 && i >= hours-3 {
			gallons += baseline * severity * s.uniform(0.7, 1.3)
			score = math.Min(1, 0.4+severity*0.5)
		} else if gallons > baseline*1.2 {
			score = math.Min(1, (gallons-baseline)/baseline)
		}
		if score > 0.3 {
			anomalies++
		}
		total += gallons
		readings = append(readings, Reading{Timestamp: ts, Value: round2(gallons), AnomalyScore: round3(score)})
	}

	return Telemetry{
		BuildingID: buildingID,
		Metric:     "water_gallons",
		Readings:   readings,
		Summary:    summarize(readings, anomalies, total, hours),
	}
}

func summarize(readings []Reading, anomalies int, total float64, hours int) Summary {
	peak := 0.0
	for _, r := range readings {
		if r.Value > peak {
			peak = r.Value
		}
	}
	return Summary{
		Avg:          round2(total / float64(max(len(readings), 1))),
		Peak:         round2(peak),
		AnomalyCount: anomalies,
		Total:        round2(total),
		HoursSampled: hours,
	}
}

func (s *Simulator) gauss(mean, stddev float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mean + stddev*s.rng.NormFloat64()
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + (hi-lo)*s.rng.Float64()
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
