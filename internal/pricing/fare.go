package pricing

import (
	"math"

	"github.com/example/ehailing/internal/models"
)

// Rate is the fare formula for one ride type: round((Base + PerKm*km) * Multiplier).
type Rate struct {
	Base       float64
	PerKm      float64
	Multiplier float64
}

// Table is the single canonical ZAR pricing table.
var Table = map[models.RideType]Rate{
	models.RideStandard: {Base: 12, PerKm: 7, Multiplier: 1.0},
	models.RideComfort:  {Base: 12, PerKm: 7, Multiplier: 1.25},
	models.RideXL:       {Base: 12, PerKm: 7, Multiplier: 1.5},
}

func rateFor(t models.RideType) Rate {
	if r, ok := Table[t]; ok {
		return r
	}
	return Table[models.RideStandard]
}

// Estimate returns the fare in whole rand.
func Estimate(distanceKm float64, t models.RideType) int64 {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	r := rateFor(t)
	return int64(math.Round((r.Base + r.PerKm*distanceKm) * r.Multiplier))
}

// Quote prices every ride type for the same distance.
func Quote(distanceKm float64) map[models.RideType]int64 {
	out := make(map[models.RideType]int64, len(models.RideTypes))
	for _, t := range models.RideTypes {
		out[t] = Estimate(distanceKm, t)
	}
	return out
}
