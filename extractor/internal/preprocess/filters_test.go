package preprocess

import (
	"math"
	"testing"
)

func TestEstimateFrequency_FewSamplesUsesDefault(t *testing.T) {
	// Любой шаг при числе точек < 10 игнорируется
	spacings := []float64{0.01, 0.25, 1, 10}
	for _, step := range spacings {
		times := make([]float64, 9)
		for i := range times {
			times[i] = float64(i) * step
		}
		if got := EstimateFrequency(times, 4.0); got != 4.0 {
			t.Errorf("step=%v: expected default 4.0, got %v", step, got)
		}
	}
}

func TestEstimateFrequency_MedianOfFirstTen(t *testing.T) {
	times := make([]float64, 40)
	for i := range times {
		times[i] = float64(i) * 0.5
	}
	// Пропуск после десятой точки не влияет на оценку
	times[20] = 1000

	if got := EstimateFrequency(times, 4.0); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("Expected 2 Hz, got %v", got)
	}
}

func TestEstimateFrequency_NoPositiveDiffs(t *testing.T) {
	times := make([]float64, 12)
	if got := EstimateFrequency(times, 3.0); got != 3.0 {
		t.Errorf("Expected fallback 3.0, got %v", got)
	}
}

func TestMedianWindow(t *testing.T) {
	tests := []struct {
		sec, fs float64
		want    int
	}{
		{3, 4, 13},
		{1, 4, 5},
		{0.5, 1, 3},
		{3, 0, 3},
		{2.5, 2, 5},
	}
	for _, tt := range tests {
		if got := MedianWindow(tt.sec, tt.fs); got != tt.want {
			t.Errorf("MedianWindow(%v, %v) = %d, want %d", tt.sec, tt.fs, got, tt.want)
		}
	}
}

func TestMedianFilter_RemovesImpulsesAndIsIdempotent(t *testing.T) {
	values := make([]float64, 40)
	for i := 20; i < 40; i++ {
		values[i] = 1
	}
	values[7] = 50   // одиночный выброс
	values[30] = -50 // одиночный провал

	once := MedianFilter(values, 5)
	if len(once) != len(values) {
		t.Fatalf("Length changed: %d -> %d", len(values), len(once))
	}
	if once[7] != 0 || once[30] != 1 {
		t.Errorf("Impulses not removed: %v %v", once[7], once[30])
	}

	twice := MedianFilter(once, 5)
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("Second pass differs at %d: %v vs %v", i, once[i], twice[i])
		}
	}
}

func TestMedianFilter_ShortInput(t *testing.T) {
	if got := MedianFilter([]float64{5}, 13); len(got) != 1 || got[0] != 5 {
		t.Errorf("Unexpected result for single sample: %v", got)
	}
	if got := MedianFilter(nil, 3); len(got) != 0 {
		t.Errorf("Expected empty output, got %v", got)
	}
}

func TestMedianFilter_WindowWiderThanSignal(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5, 9, 2}

	wide := MedianFilter(values, 300001)
	full := MedianFilter(values, 7)
	for i := range values {
		if wide[i] != full[i] {
			t.Fatalf("Index %d: wide window %v, signal-length window %v", i, wide[i], full[i])
		}
	}

	// Четная длина сигнала: окно сужается до ближайшего нечетного
	even := MedianFilter(values[:6], 1001)
	want := MedianFilter(values[:6], 5)
	for i := range even {
		if even[i] != want[i] {
			t.Fatalf("Index %d: got %v, want %v", i, even[i], want[i])
		}
	}
}

func TestSuppressArtifacts_ShortBurstReplaced(t *testing.T) {
	values := make([]float64, 200)
	for i := range values {
		values[i] = 140
	}
	for i := 50; i < 60; i++ {
		values[i] = 40
	}

	out := SuppressArtifacts(values, 4, HeartRateProfile())
	for i, v := range out {
		if v != 140 {
			t.Fatalf("Expected artifact clamped to median at %d, got %v", i, v)
		}
	}
	if values[55] != 40 {
		t.Error("Input slice must not be modified")
	}
}

func TestSuppressArtifacts_LongDepartureKept(t *testing.T) {
	values := make([]float64, 200)
	for i := range values {
		values[i] = 140
	}
	for i := 50; i < 110; i++ {
		values[i] = 40
	}

	out := SuppressArtifacts(values, 4, HeartRateProfile())
	if out[80] != 40 {
		t.Errorf("Long segment must be treated as physiology, got %v", out[80])
	}
}

func TestSuppressArtifacts_Disabled(t *testing.T) {
	values := []float64{10, 100, 10, 10, 10, 10, 10, 10, 10, 10}
	out := SuppressArtifacts(values, 4, UterineProfile())
	for i := range values {
		if out[i] != values[i] {
			t.Fatalf("Disabled profile changed value at %d", i)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("Expected 2, got %v", got)
	}
	if got := Median([]float64{4, 1, 2, 3}); got != 2.5 {
		t.Errorf("Expected 2.5, got %v", got)
	}
	if got := Median(nil); got != 0 {
		t.Errorf("Expected 0 for empty input, got %v", got)
	}
}
