package distance

import (
	"math"
	"testing"
)

func TestEuclidSimilarity(t *testing.T) {
	u := []float32{1, 0, 1, 1}
	v := []float32{1, 1, 1, 1}
	got := Similarity(Euclid, u, v)
	if got != 1 {
		t.Fatalf("euclid similarity = %v, want 1", got)
	}
}

func TestDotSimilarity(t *testing.T) {
	u := []float32{1, 0, 1, 1}
	v := []float32{1, 0, 1, 1}
	got := Similarity(Dot, u, v)
	want := float32(1 - 3)
	if math.Abs(float64(got-want)) > 1e-5 {
		t.Fatalf("dot similarity = %v, want %v", got, want)
	}
}

func TestCosinePreprocessNormalizes(t *testing.T) {
	v := []float32{3, 4, 0, 0}
	out := Preprocess(Cosine, v)
	var sumSq float32
	for _, x := range out {
		sumSq += x * x
	}
	if math.Abs(float64(sumSq)-1) > 1e-4 {
		t.Fatalf("normalized vector has squared length %v, want ~1", sumSq)
	}
}

func TestCosinePreprocessZeroVectorIsNaN(t *testing.T) {
	v := []float32{0, 0, 0, 0}
	out := Preprocess(Cosine, v)
	for i, x := range out {
		if !math.IsNaN(float64(x)) {
			t.Fatalf("out[%d] = %v, want NaN for zero-length input", i, x)
		}
	}
}

func TestEuclidAndDotPreprocessIsIdentity(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := Preprocess(Euclid, v); &got[0] != &v[0] {
		t.Fatalf("euclid preprocess should return the same backing array")
	}
	if got := Preprocess(Dot, v); &got[0] != &v[0] {
		t.Fatalf("dot preprocess should return the same backing array")
	}
}

func TestCallCounterOffByDefault(t *testing.T) {
	ResetCallCount()
	EnableCallCounting(false)
	Similarity(Dot, []float32{1}, []float32{1})
	if CallCount() != 0 {
		t.Fatalf("call count = %d, want 0 when disabled", CallCount())
	}

	EnableCallCounting(true)
	defer EnableCallCounting(false)
	Similarity(Dot, []float32{1}, []float32{1})
	if CallCount() != 1 {
		t.Fatalf("call count = %d, want 1 when enabled", CallCount())
	}
	ResetCallCount()
}
