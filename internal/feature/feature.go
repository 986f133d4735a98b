package feature

import (
	"math"
	"sort"
	"time"
)

// Builder converts a site's static attributes and a query time into the
// numeric feature vector consumed by the predictors. The month is encoded
// cyclically so December and January end up adjacent in feature space.
type Builder struct {
	siteTypeCodes map[string]float64
}

// NewBuilder constructs a Builder. siteTypes lists the known site categories
// (pond, lake, reservoir, ...); when empty the site-type indicator column is
// omitted from the vector.
func NewBuilder(siteTypes []string) *Builder {
	b := &Builder{}
	if len(siteTypes) > 0 {
		sorted := append([]string(nil), siteTypes...)
		sort.Strings(sorted)
		b.siteTypeCodes = make(map[string]float64, len(sorted))
		for i, st := range sorted {
			b.siteTypeCodes[st] = float64(i + 1)
		}
	}
	return b
}

// Dim reports the length of vectors produced by Build.
func (b *Builder) Dim() int {
	if b.siteTypeCodes != nil {
		return 7
	}
	return 6
}

// SiteTypes returns the known site categories in code order. Rebuilding a
// Builder from this list reproduces the same encoding.
func (b *Builder) SiteTypes() []string {
	if b.siteTypeCodes == nil {
		return nil
	}
	out := make([]string, len(b.siteTypeCodes))
	for st, code := range b.siteTypeCodes {
		out[int(code)-1] = st
	}
	return out
}

// Names returns the feature column names in vector order.
func (b *Builder) Names() []string {
	names := []string{"latitude", "longitude", "month_sin", "month_cos", "distance_to_source_km", "elevation_m"}
	if b.siteTypeCodes != nil {
		names = append(names, "site_type")
	}
	return names
}

// Build assembles the feature vector for one site at the given month.
// Unknown site types encode as zero.
func (b *Builder) Build(lat, lon float64, month time.Month, distanceKm, elevationM float64, siteType string) []float64 {
	angle := 2 * math.Pi * float64(month) / 12
	v := []float64{lat, lon, math.Sin(angle), math.Cos(angle), distanceKm, elevationM}
	if b.siteTypeCodes != nil {
		v = append(v, b.siteTypeCodes[siteType])
	}
	return v
}
