package preprocess

import (
	"errors"
	"math"
	"testing"
)

func dcGain(sos SOS) float64 {
	gain := 1.0
	for _, s := range sos {
		gain *= (s[0] + s[1] + s[2]) / (s[3] + s[4] + s[5])
	}
	return gain
}

func TestButterworth_UnitDCGain(t *testing.T) {
	for order := 1; order <= 6; order++ {
		for _, wn := range []float64{0.005, 0.025, 0.2, 0.5, 0.99} {
			sos, err := Butterworth(order, wn)
			if err != nil {
				t.Fatalf("order=%d wn=%v: %v", order, wn, err)
			}
			if want := (order + 1) / 2; len(sos) != want {
				t.Errorf("order=%d: expected %d sections, got %d", order, want, len(sos))
			}
			if g := dcGain(sos); math.Abs(g-1) > 1e-6 {
				t.Errorf("order=%d wn=%v: DC gain %v", order, wn, g)
			}
		}
	}
}

func TestButterworth_InvalidInput(t *testing.T) {
	cases := []struct {
		order int
		wn    float64
	}{
		{0, 0.1},
		{3, 0},
		{3, 1},
		{3, math.NaN()},
		{3, -0.5},
	}
	for _, c := range cases {
		if _, err := Butterworth(c.order, c.wn); !errors.Is(err, ErrFilterDesign) {
			t.Errorf("Butterworth(%d, %v): expected ErrFilterDesign, got %v", c.order, c.wn, err)
		}
	}
}

func TestSOS_PadLen(t *testing.T) {
	odd, _ := Butterworth(3, 0.025)
	if got := odd.PadLen(); got != 12 {
		t.Errorf("Order 3: expected padlen 12, got %d", got)
	}
	even, _ := Butterworth(4, 0.005)
	if got := even.PadLen(); got != 15 {
		t.Errorf("Order 4: expected padlen 15, got %d", got)
	}
}

func TestFiltFilt_ConstantPreserved(t *testing.T) {
	sos, err := Butterworth(3, 0.025)
	if err != nil {
		t.Fatalf("Design failed: %v", err)
	}
	x := make([]float64, 300)
	for i := range x {
		x[i] = 132.5
	}

	y, err := FiltFilt(sos, x)
	if err != nil {
		t.Fatalf("FiltFilt failed: %v", err)
	}
	for i := range y {
		if math.Abs(y[i]-132.5) > 1e-6 {
			t.Fatalf("Sample %d drifted: %v", i, y[i])
		}
	}
}

func TestFiltFilt_AttenuatesHighFrequency(t *testing.T) {
	sos, err := Butterworth(3, 0.025)
	if err != nil {
		t.Fatalf("Design failed: %v", err)
	}

	const fs = 4.0
	x := make([]float64, 2400)
	for i := range x {
		x[i] = 130 + 5*math.Sin(2*math.Pi*1.0*float64(i)/fs+0.3)
	}

	y, err := FiltFilt(sos, x)
	if err != nil {
		t.Fatalf("FiltFilt failed: %v", err)
	}
	if len(y) != len(x) {
		t.Fatalf("Length changed: %d -> %d", len(x), len(y))
	}
	// Центральная часть без краевых эффектов
	for i := 400; i < 2000; i++ {
		if math.Abs(y[i]-130) > 0.05 {
			t.Fatalf("Sample %d not attenuated: %v", i, y[i])
		}
	}
}

func TestFiltFilt_TooShort(t *testing.T) {
	sos, _ := Butterworth(3, 0.025)
	_, err := FiltFilt(sos, make([]float64, 12))
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("Expected ErrTooShort, got %v", err)
	}
}
