// Package grid maps a campaign's center, radius and density onto the lattice
// of coordinates queried during a scan.
package grid

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MilesPerDegreeLat is the approximate length of one degree of latitude.
	MilesPerDegreeLat = 69.0

	// Padding widens the lattice so the outer ring sits slightly beyond the
	// radius, matching the bounding box map consumers draw around it.
	Padding = 1.2

	MinSize = 3
	MaxSize = 15

	// maxAbsLatitude keeps cos(lat) away from zero.
	maxAbsLatitude = 89.0
)

var (
	ErrInvalidSize   = errors.New("grid size must be odd and between 3 and 15")
	ErrInvalidRadius = errors.New("radius must be positive")
	ErrInvalidCenter = errors.New("center coordinate out of range")
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point is one cell of the lattice. Row 0 is the northern edge, Col 0 the western edge.
type Point struct {
	Row int `json:"row"`
	Col int `json:"col"`
	Coordinate
}

// Spec describes the geometry of a grid.
type Spec struct {
	Center      Coordinate
	RadiusMiles float64
	Size        int
}

// Validate checks the geometry before any coordinates are produced.
func (s Spec) Validate() error {
	if s.Size < MinSize || s.Size > MaxSize || s.Size%2 == 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, s.Size)
	}
	if !(s.RadiusMiles > 0) || math.IsInf(s.RadiusMiles, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidRadius, s.RadiusMiles)
	}
	if math.IsNaN(s.Center.Lat) || math.IsNaN(s.Center.Lng) ||
		math.Abs(s.Center.Lat) >= maxAbsLatitude || math.Abs(s.Center.Lng) > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCenter, s.Center.Lat, s.Center.Lng)
	}
	return nil
}

// Steps returns the spacing between adjacent rows and columns in degrees.
func (s Spec) Steps() (latStep, lngStep float64) {
	half := s.Size / 2
	latStep = (s.RadiusMiles * Padding / MilesPerDegreeLat) / float64(half)
	lngStep = latStep / math.Cos(s.Center.Lat*math.Pi/180)
	return latStep, lngStep
}

// Generate returns Size² points in row-major order. The middle cell carries
// the center coordinate exactly, and identical input always yields identical output.
func Generate(s Spec) ([]Point, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	half := s.Size / 2
	latStep, lngStep := s.Steps()

	points := make([]Point, 0, s.Size*s.Size)
	for row := 0; row < s.Size; row++ {
		lat := s.Center.Lat + float64(half-row)*latStep
		for col := 0; col < s.Size; col++ {
			points = append(points, Point{
				Row: row,
				Col: col,
				Coordinate: Coordinate{
					Lat: lat,
					Lng: s.Center.Lng + float64(col-half)*lngStep,
				},
			})
		}
	}
	return points, nil
}

// Center returns the index of the middle cell for a grid of the given size.
func Center(size int) (row, col int) {
	return size / 2, size / 2
}
