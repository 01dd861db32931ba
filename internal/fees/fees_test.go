package fees

import "testing"

func TestBandsMatchesSpecWorkedExample(t *testing.T) {
	low, medium, high := bands([]float64{10, 20, 30, 40, 50})
	if medium != 30 {
		t.Fatalf("expected medium 30, got %d", medium)
	}
	if low != 15 {
		t.Fatalf("expected low 15 (30-sqrt(200)=15.858 floored), got %d", low)
	}
	if high != 44 {
		t.Fatalf("expected high 44, got %d", high)
	}
}

func TestBandsClampsLowToZero(t *testing.T) {
	low, medium, _ := bands([]float64{1, 1, 1, 100})
	if low != 0 {
		t.Fatalf("expected low clamped to 0, got %d", low)
	}
	if medium != 25 {
		t.Fatalf("expected medium 25, got %d", medium)
	}
}

func TestBandsEmptyIsZero(t *testing.T) {
	low, medium, high := bands(nil)
	if low != 0 || medium != 0 || high != 0 {
		t.Fatalf("expected all zero for empty input, got %d %d %d", low, medium, high)
	}
}
