package model

import (
	"math"
	"sort"
	"time"
)

// PricePoint is one daily close.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Valid reports whether the close is a positive finite number.
func (p PricePoint) Valid() bool {
	return p.Close > 0 && !math.IsInf(p.Close, 0) && !math.IsNaN(p.Close)
}

// Closes returns the close prices of the valid points in chronological order.
// The input is not modified.
func Closes(series []PricePoint) []float64 {
	pts := make([]PricePoint, 0, len(series))
	for _, p := range series {
		if p.Valid() {
			pts = append(pts, p)
		}
	}
	if !sort.SliceIsSorted(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) }) {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
	}

	closes := make([]float64, len(pts))
	for i, p := range pts {
		closes[i] = p.Close
	}
	return closes
}
