package horizon

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestCustomInterpolatesAndWraps(t *testing.T) {
	h, err := NewCustom([]Point{{Azimuth: 0, Altitude: 10}, {Azimuth: 90, Altitude: 20}, {Azimuth: 270, Altitude: 0}})
	if err != nil {
		t.Fatalf("NewCustom: %v", err)
	}

	cases := []struct {
		az, want float64
	}{
		{0, 10},
		{45, 15},
		{90, 20},
		{180, 10},
		{315, 5},
		{-45, 5},
	}
	for _, tc := range cases {
		if got := h.AltitudeAt(tc.az); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("AltitudeAt(%v) = %v, want %v", tc.az, got, tc.want)
		}
	}
}

func TestLoadParsesFile(t *testing.T) {
	src := `# site horizon
0 12
90, 18

// south wall
180	25
`
	h, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(h.Points()); got != 3 {
		t.Fatalf("points = %d, want 3", got)
	}
	if got := h.AltitudeAt(180); got != 25 {
		t.Fatalf("AltitudeAt(180) = %v, want 25", got)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load(strings.NewReader("north 10\n")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(strings.NewReader("# nothing\n")); !errors.Is(err, ErrEmptyHorizon) {
		t.Fatalf("err = %v, want ErrEmptyHorizon", err)
	}
}

func TestFlatAndDefault(t *testing.T) {
	if got := OrFlat(nil).AltitudeAt(123); got != 0 {
		t.Fatalf("default horizon = %v, want 0", got)
	}
	if got := Flat(-1).AltitudeAt(10); got != -1 {
		t.Fatalf("Flat(-1) = %v", got)
	}
}
