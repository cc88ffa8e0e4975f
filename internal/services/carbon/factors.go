package carbon

import (
	"math"
	"strings"
)

// DefaultEmissionFactor applies to waste types missing from the table (kg CO2 per ton).
const DefaultEmissionFactor = 1.0

// DefaultPointsPerKg: 1 kg CO2 offset earns 1 reward point.
const DefaultPointsPerKg = 1.0

// Коэффициенты по умолчанию, кг CO2 на тонну отходов.
var builtinFactors = map[string]float64{
	"Rice Husk":         1.4,
	"Rice Straw":        1.5,
	"Wheat Straw":       1.3,
	"Sugarcane Bagasse": 1.1,
	"Corn Stover":       1.2,
	"Cotton Stalk":      1.0,
}

// EmissionFactors is the per-waste-type lookup table. Keys match
// case-insensitively after trimming.
type EmissionFactors struct {
	factors map[string]float64
	def     float64
}

// NewEmissionFactors builds a table. Non-positive factors are dropped and a
// non-positive default falls back to DefaultEmissionFactor.
func NewEmissionFactors(factors map[string]float64, def float64) *EmissionFactors {
	if !(def > 0) || math.IsInf(def, 0) {
		def = DefaultEmissionFactor
	}
	f := &EmissionFactors{factors: make(map[string]float64, len(factors)), def: def}
	for k, v := range factors {
		if !(v > 0) || math.IsInf(v, 0) {
			continue
		}
		f.factors[normalize(k)] = v
	}
	return f
}

func DefaultEmissionFactors() *EmissionFactors {
	return NewEmissionFactors(builtinFactors, DefaultEmissionFactor)
}

// Factor never fails: unknown types get the default.
func (f *EmissionFactors) Factor(wasteType string) float64 {
	if v, ok := f.factors[normalize(wasteType)]; ok {
		return v
	}
	return f.def
}

func (f *EmissionFactors) Default() float64 {
	return f.def
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// OffsetKg = factor * quantity, rounded to 2 decimals.
func OffsetKg(factor, quantityTons float64) float64 {
	return math.Round(factor*quantityTons*100) / 100
}

func RewardPoints(offsetKg, pointsPerKg float64) int64 {
	return int64(math.Round(offsetKg * pointsPerKg))
}

// EmissionFactorsOrBuiltin falls back to the built-in table when factors is
// empty, so a config without emission_factors still issues sane credits.
func EmissionFactorsOrBuiltin(factors map[string]float64, def float64) *EmissionFactors {
	if len(factors) == 0 {
		factors = builtinFactors
	}
	return NewEmissionFactors(factors, def)
}
