package regional

import (
	"encoding/json"
	"math"
	"time"
)

// AnalysisID identifier type
type AnalysisID string

// LegacyAveragePercentile selects the retired instantaneous-accessibility mode.
const LegacyAveragePercentile = -1

// DefaultZoom is the web mercator zoom level regional grids are computed at.
const DefaultZoom = 9

// Bounds in WGS84 degrees.
type Bounds struct {
	North float64 `json:"north" validate:"gte=-90,lte=90"`
	East  float64 `json:"east" validate:"gte=-180,lte=180"`
	South float64 `json:"south" validate:"gte=-90,lte=90,ltefield=North"`
	West  float64 `json:"west" validate:"gte=-180,lte=180,ltefield=East"`
}

// AnalysisRequest is what gets handed to the broker. Params carries the
// routing parameters verbatim; this service never interprets them.
type AnalysisRequest struct {
	TravelTimePercentile int             `json:"travelTimePercentile"`
	ScenarioID           string          `json:"scenarioId,omitempty"`
	Params               json.RawMessage `json:"params,omitempty"`
}

// Aggregate Root: RegionalAnalysis
type RegionalAnalysis struct {
	ID          AnalysisID      `json:"id"`
	ProjectID   string          `json:"projectId"`
	AccessGroup string          `json:"accessGroup"`
	Name        string          `json:"name"`
	Request     AnalysisRequest `json:"request"`
	Complete    bool            `json:"complete"`
	Deleted     bool            `json:"deleted"`
	CreatedAt   time.Time       `json:"createdAt"`
	Bounds      *Bounds         `json:"bounds,omitempty"`
	Zoom        int             `json:"zoom"`
	West        int             `json:"west"`
	North       int             `json:"north"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
}

// ComputeBoundingBox fills the pixel extent from Bounds at the analysis zoom.
func (a *RegionalAnalysis) ComputeBoundingBox() {
	if a.Bounds == nil {
		return
	}
	a.West = LonToPixel(a.Bounds.West, a.Zoom)
	a.North = LatToPixel(a.Bounds.North, a.Zoom)
	a.Width = LonToPixel(a.Bounds.East, a.Zoom) - a.West + 1
	a.Height = LatToPixel(a.Bounds.South, a.Zoom) - a.North + 1
}

// LonToPixel returns the web mercator pixel column containing lon.
func LonToPixel(lon float64, zoom int) int {
	return int((lon + 180) / 360 * math.Pow(2, float64(zoom)) * 256)
}

// LatToPixel returns the web mercator pixel row containing lat.
func LatToPixel(lat float64, zoom int) int {
	rad := lat * math.Pi / 180
	y := (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2
	return int(y * math.Pow(2, float64(zoom)) * 256)
}
