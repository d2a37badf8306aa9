package config

import "github.com/talgya/progression/internal/progression"

// Default returns the built-in run: a decay engine wearing down timber,
// stone and iron structures and a growth engine raising houses from the
// shared stockpile.
func Default() *Config {
	c := &Config{
		Engines: []Engine{
			{
				Name:       "decay",
				Direction:  "decay",
				AutoRemove: true,
				Default: ProfileConfig{
					Sensitivity: progression.Sensitivity{Moisture: 0.02, Exposure: 0.02},
				},
				Profiles: map[string]ProfileConfig{
					"wood": {
						Sensitivity: progression.Sensitivity{Moisture: 0.08, Exposure: 0.03, Contamination: 0.02},
						Curve:       &progression.TempCurve{Optimal: 15, Tolerance: 8, WarmSlope: 0.004, ColdSlope: 0.002},
					},
					"stone": {
						Sensitivity: progression.Sensitivity{Moisture: 0.01, Exposure: 0.015},
						Curve:       &progression.TempCurve{Optimal: 10, Tolerance: 12, WarmSlope: 0.001, ColdSlope: 0.003},
					},
					"iron": {
						Sensitivity: progression.Sensitivity{Moisture: 0.05, Contamination: 0.1},
					},
				},
				Seasonal: map[string]float64{"winter": 1.3, "summer": 0.9},
				Populations: []Population{
					{Category: "wood", Count: 400, BaseRate: 0.05},
					{Category: "stone", Count: 200, BaseRate: 0.01},
					{Category: "iron", Count: 150, BaseRate: 0.03},
				},
			},
			{
				Name:      "construction",
				Direction: "growth",
				Profiles: map[string]ProfileConfig{
					"house": {
						Sensitivity: progression.Sensitivity{Moisture: -0.2, Exposure: -0.1},
						Curve:       &progression.TempCurve{Optimal: 18, Tolerance: 10, WarmSlope: -0.01, ColdSlope: -0.03},
					},
				},
				Upkeep: map[string][]UpkeepRule{
					"house": {{Resource: "wood", PerUnit: 0.5}, {Resource: "stone", PerUnit: 0.25}},
				},
				Seasonal: map[string]float64{"winter": 0.4, "spring": 1.1, "summer": 1.2},
				Populations: []Population{
					{
						Category: "house",
						Count:    40,
						BaseRate: 0.8,
						Conditions: &progression.Conditions{
							Resources:   []progression.Requirement{{Name: "wood", Min: 10}},
							Temperature: &progression.Range{Min: -2, Max: 38},
							RequiredTag: "workshop",
						},
					},
				},
			},
		},
		Stockpile: StockpileConfig{
			Goods:  map[string]float64{"wood": 500, "stone": 300},
			Income: map[string]float64{"wood": 6, "stone": 3},
			Tags:   []string{"workshop"},
		},
		Weather: WeatherConfig{Location: "San Diego,US"},
	}
	c.ApplyDefaults()
	return c
}
