// Package synthetic generates deterministic, seasonally and spatially
// structured demo data: sites spread over a region, monthly measurements,
// and a contaminated minority of sites for detection experiments.
package synthetic

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jalsarovar/wflow/internal/store"
)

var siteTypes = []string{"pond", "lake", "reservoir", "river", "well"}

// Options shape the generated region and history.
type Options struct {
	Seed                 int64
	Sites                int
	Months               int
	End                  time.Time
	ContaminatedFraction float64
	// Region center; sites scatter within ~0.5 degrees.
	CenterLat float64
	CenterLon float64
}

func (o Options) normalized() Options {
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.Sites <= 0 {
		o.Sites = 120
	}
	if o.Months <= 0 {
		o.Months = 24
	}
	if o.End.IsZero() {
		o.End = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if o.ContaminatedFraction <= 0 || o.ContaminatedFraction >= 1 {
		o.ContaminatedFraction = 0.1
	}
	if o.CenterLat == 0 && o.CenterLon == 0 {
		o.CenterLat, o.CenterLon = 23.2, 77.4
	}
	return o
}

// Generate builds the site table and monthly measurement history. The same
// options always produce the same data.
func Generate(opts Options) ([]store.Site, []store.Measurement) {
	opts = opts.normalized()
	rng := rand.New(rand.NewSource(opts.Seed))

	sites := make([]store.Site, opts.Sites)
	contaminated := make([]bool, opts.Sites)
	// Pollution hotspot in the region's northeast corner.
	hotLat, hotLon := opts.CenterLat+0.3, opts.CenterLon+0.3
	for i := range sites {
		lat := opts.CenterLat + (rng.Float64()-0.5)
		lon := opts.CenterLon + (rng.Float64()-0.5)
		sites[i] = store.Site{
			ID:                 fmt.Sprintf("WB%04d", i+1),
			Name:               fmt.Sprintf("Waterbody %d", i+1),
			Lat:                lat,
			Lon:                lon,
			ElevationM:         400 + rng.Float64()*300,
			DistanceToSourceKm: rng.Float64() * 40,
			SiteType:           siteTypes[rng.Intn(len(siteTypes))],
		}
		contaminated[i] = rng.Float64() < opts.ContaminatedFraction
	}

	var measurements []store.Measurement
	start := opts.End.AddDate(0, -opts.Months, 0)
	for m := 0; m < opts.Months; m++ {
		at := start.AddDate(0, m, 14)
		season := 2 * math.Pi * float64(at.Month()) / 12
		for i, site := range sites {
			hot := hotspotEffect(site.Lat, site.Lon, hotLat, hotLon)
			measurements = append(measurements,
				phReading(rng, site, at, season, contaminated[i]),
				tdsReading(rng, site, at, season, hot, contaminated[i]),
				turbidityReading(rng, site, at, season, contaminated[i]),
				doReading(rng, site, at, season, hot, contaminated[i]),
			)
		}
	}
	return sites, measurements
}

// hotspotEffect decays with squared distance from the pollution source, in
// degree space; close sites get a strong additive bump.
func hotspotEffect(lat, lon, hotLat, hotLon float64) float64 {
	d2 := (lat-hotLat)*(lat-hotLat) + (lon-hotLon)*(lon-hotLon)
	return math.Exp(-d2 / 0.05)
}

func phReading(rng *rand.Rand, site store.Site, at time.Time, season float64, bad bool) store.Measurement {
	v := 7.2 + 0.3*math.Sin(season) + rng.NormFloat64()*0.15
	if bad {
		v -= 1.2 + rng.Float64()*0.5
	}
	return reading(site, "ph", clampVal(v, 0, 14), at)
}

func tdsReading(rng *rand.Rand, site store.Site, at time.Time, season float64, hot float64, bad bool) store.Measurement {
	v := 250 + 4*site.DistanceToSourceKm + 180*hot + 40*math.Sin(season) + rng.NormFloat64()*25
	if bad {
		v += 350 + rng.Float64()*150
	}
	return reading(site, "tds", clampVal(v, 0, 50000), at)
}

func turbidityReading(rng *rand.Rand, site store.Site, at time.Time, season float64, bad bool) store.Measurement {
	// Monsoon peak around July-August.
	monsoon := math.Max(0, math.Sin(season-math.Pi/2))
	v := 1.5 + 4*monsoon + rng.NormFloat64()*0.6
	if bad {
		v += 6 + rng.Float64()*4
	}
	return reading(site, "turbidity", clampVal(v, 0, 10000), at)
}

func doReading(rng *rand.Rand, site store.Site, at time.Time, season float64, hot float64, bad bool) store.Measurement {
	v := 7.5 - 1.2*math.Sin(season) - 1.5*hot + rng.NormFloat64()*0.4
	if bad {
		v -= 2.5 + rng.Float64()
	}
	return reading(site, "dissolved_oxygen", clampVal(v, 0, 30), at)
}

func reading(site store.Site, parameter string, value float64, at time.Time) store.Measurement {
	return store.Measurement{
		SiteID:     site.ID,
		Parameter:  parameter,
		Value:      value,
		MeasuredAt: at,
		Source:     store.SourceLab,
	}
}

func clampVal(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
