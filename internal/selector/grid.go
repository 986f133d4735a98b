package selector

import "math"

const earthRadiusKm = 6371.0

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

type cellKey struct{ row, col int }

// grid is a uniform spatial index over candidate indices. Cells are sized to
// the decay radius, so a neighbor query only inspects the 3x3 cell block
// around a point instead of every candidate.
type grid struct {
	radiusKm   float64
	latCellDeg float64
	lonCellDeg float64
	cells      map[cellKey][]int
}

func newGrid(radiusKm float64, cands []Candidate) *grid {
	// Kilometres per degree of longitude shrink with latitude; size lon
	// cells for the densest (highest-latitude) candidate so a 3x3 block
	// always covers the radius.
	maxAbsLat := 0.0
	for _, c := range cands {
		if a := math.Abs(c.Lat); a > maxAbsLat {
			maxAbsLat = a
		}
	}
	cosLat := math.Cos(maxAbsLat * math.Pi / 180)
	if cosLat < 0.1 {
		cosLat = 0.1
	}
	g := &grid{
		radiusKm:   radiusKm,
		latCellDeg: radiusKm / 110.574,
		lonCellDeg: radiusKm / (111.320 * cosLat),
		cells:      make(map[cellKey][]int),
	}
	for i, c := range cands {
		k := g.key(c.Lat, c.Lon)
		g.cells[k] = append(g.cells[k], i)
	}
	return g
}

func (g *grid) key(lat, lon float64) cellKey {
	return cellKey{
		row: int(math.Floor(lat / g.latCellDeg)),
		col: int(math.Floor(lon / g.lonCellDeg)),
	}
}

// neighbors calls fn for every indexed candidate within radiusKm of the
// given coordinate, including the point's own index if indexed.
func (g *grid) neighbors(cands []Candidate, lat, lon float64, fn func(i int)) {
	center := g.key(lat, lon)
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			for _, i := range g.cells[cellKey{center.row + dr, center.col + dc}] {
				if haversineKm(lat, lon, cands[i].Lat, cands[i].Lon) <= g.radiusKm {
					fn(i)
				}
			}
		}
	}
}
