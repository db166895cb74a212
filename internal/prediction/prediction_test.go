package prediction

import (
	"encoding/json"
	"testing"
)

func TestNormalizeConfidence(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"fraction unchanged", 0.42, 0.42},
		{"percentage", 95, 0.95},
		{"one stays one", 1, 1},
		{"negative clamps", -3, 0},
		{"overflow clamps", 250, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeConfidence(tc.in); got != tc.want {
				t.Fatalf("NormalizeConfidence(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestConfidenceUnmarshal(t *testing.T) {
	cases := map[string]float64{
		`"87"`:    0.87,
		`95`:      0.95,
		`0.42`:    0.42,
		`" 60% "`: 0.6,
		`"1%"`:    0.01,
		`"0.5%"`:  0.005,
		`"120%"`:  1,
		`null`:    0,
	}
	for input, want := range cases {
		var c Confidence
		if err := json.Unmarshal([]byte(input), &c); err != nil {
			t.Fatalf("unmarshal %s: %v", input, err)
		}
		if float64(c) != want {
			t.Fatalf("unmarshal %s = %v, want %v", input, float64(c), want)
		}
	}
}

func TestParseConfidencePercentSuffix(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"1%", 0.01},
		{"0.5%", 0.005},
		{"87", 0.87},
		{"0.3", 0.3},
		{"-5%", 0},
	}
	for _, tc := range cases {
		got, err := ParseConfidence(tc.in)
		if err != nil {
			t.Fatalf("ParseConfidence(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseConfidence(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestConfidenceAbsentDecodesToZero(t *testing.T) {
	var r struct {
		Confidence Confidence `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(`{"condition":"Healthy Nail"}`), &r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Confidence != 0 {
		t.Fatalf("expected 0, got %v", float64(r.Confidence))
	}
}

func TestConfidenceUnmarshalRejectsText(t *testing.T) {
	var c Confidence
	if err := json.Unmarshal([]byte(`"high"`), &c); err == nil {
		t.Fatal("expected error for non-numeric confidence")
	}
}

func TestParseCategory(t *testing.T) {
	got, err := ParseCategory("")
	if err != nil || got != CategoryTongue {
		t.Fatalf("expected default tongue, got %q, %v", got, err)
	}
	got, err = ParseCategory(" Nail ")
	if err != nil || got != CategoryNail {
		t.Fatalf("expected nail, got %q, %v", got, err)
	}
	if _, err := ParseCategory("elbow"); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestConfidencePercent(t *testing.T) {
	r := &Result{Confidence: 0.876}
	if got := r.ConfidencePercent(); got != 88 {
		t.Fatalf("expected 88, got %d", got)
	}
}
