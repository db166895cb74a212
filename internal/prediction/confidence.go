package prediction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Confidence decodes a JSON number or numeric string into a normalized score.
// An absent or null confidence decodes to 0, indistinguishable from a zero score.
type Confidence float64

// UnmarshalJSON accepts 0.42, 95, "87" and "87%". A value marked with %
// is always a percentage, so "1%" is 0.01.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseConfidence(s)
		if err != nil {
			return err
		}
		*c = Confidence(parsed)
		return nil
	}

	var raw float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("confidence: %w", err)
	}
	*c = Confidence(NormalizeConfidence(raw))
	return nil
}

// ParseConfidence parses a textual confidence value into [0,1]. A trailing
// % divides by 100 unconditionally; bare numbers follow NormalizeConfidence.
func ParseConfidence(s string) (float64, error) {
	s = strings.TrimSpace(s)
	trimmed, percent := strings.CutSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
	if err != nil {
		return 0, fmt.Errorf("confidence %q is not numeric", s)
	}
	if percent {
		return clampUnit(v / 100), nil
	}
	return NormalizeConfidence(v), nil
}

// NormalizeConfidence coerces v into [0,1]. Values above 1 are percentages.
func NormalizeConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return clampUnit(v)
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
