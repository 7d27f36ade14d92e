package results

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/transit-analyst/internal/domain/regional"
)

// Format enum
type Format string

const (
	FormatGrid Format = "grid"
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
)

// ParseFormat validates a client supplied format against the closed set.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatGrid, FormatPNG, FormatTIFF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q, must be \"grid\", \"png\", or \"tiff\"", ErrInvalidFormat, s)
	}
}

// ContentType of an artifact stored in this format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// ContentEncoding of an artifact stored in this format. Only raw grids are
// stored compressed.
func (f Format) ContentEncoding() string {
	if f == FormatGrid {
		return "gzip"
	}
	return ""
}

// PercentileKey is the cache key of the percentile grid of an analysis. The
// percentile itself is not part of the key since it is fixed per analysis;
// only the legacy average mode gets its own key family.
func PercentileKey(id regional.AnalysisID, percentile int, f Format) string {
	if percentile == regional.LegacyAveragePercentile {
		return fmt.Sprintf("%s_average.%s", id, f)
	}
	return fmt.Sprintf("%s_given_percentile_travel_time.%s", id, f)
}

// ProbabilityKey is the cache key of the probability-of-improvement surface
// from base to scenario.
func ProbabilityKey(base, scenario regional.AnalysisID, f Format) string {
	return fmt.Sprintf("%s_%s_probability.%s", base, scenario, f)
}

// AccessKey is the key of the raw replicate object written by the broker.
func AccessKey(id regional.AnalysisID) string {
	return fmt.Sprintf("%s.access", id)
}
