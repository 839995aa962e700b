package matrix

import (
	"context"
	"math"
)

// Node is a resolvable location the assembler hands to a provider.
// Coordinates are optional; the linear stub ignores them.
type Node struct {
	ID  string
	Lat float64
	Lng float64
}

// Provider computes square distance (meters) and travel time (seconds)
// matrices over the given node list, in the same index order. Replaced by
// a real routing/geocoding service in production deployments.
type Provider interface {
	Provide(ctx context.Context, nodes []Node) (distM [][]int64, timeSec [][]int64, err error)
}

// Linear derives pseudo distances from index difference: |i-j|*1000 m
// and |i-j|*120 s. It exists so the pipeline can run end to end without
// a matrix service; do not use it for real dispatching.
type Linear struct{}

func (Linear) Provide(ctx context.Context, nodes []Node) ([][]int64, [][]int64, error) {
	n := len(nodes)
	dist := make([][]int64, n)
	tsec := make([][]int64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]int64, n)
		tsec[i] = make([]int64, n)
		for j := 0; j < n; j++ {
			d := int64(abs(i-j)) * 1000
			dist[i][j] = d
			tsec[i][j] = int64(abs(i-j)) * 120
		}
	}
	return dist, tsec, nil
}

// Haversine computes great-circle distances from node coordinates and
// derives travel time from a fixed average speed.
type Haversine struct {
	SpeedKph float64
}

func (h Haversine) Provide(ctx context.Context, nodes []Node) ([][]int64, [][]int64, error) {
	speed := h.SpeedKph
	if speed <= 0 {
		speed = 40
	}
	mps := speed * 1000 / 3600
	n := len(nodes)
	dist := make([][]int64, n)
	tsec := make([][]int64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]int64, n)
		tsec[i] = make([]int64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := haversineMeters(nodes[i].Lat, nodes[i].Lng, nodes[j].Lat, nodes[j].Lng)
			dist[i][j] = int64(d)
			tsec[i][j] = int64(d / mps)
		}
	}
	return dist, tsec, nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
