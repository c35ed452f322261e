package pricing

import (
	"testing"

	"github.com/example/ehailing/internal/models"
)

func TestStandardFiveKm(t *testing.T) {
	if got := Estimate(5, models.RideStandard); got != 47 {
		t.Fatalf("expected 47, got %d", got)
	}
}

func TestMultipliers(t *testing.T) {
	cases := map[models.RideType]int64{
		models.RideStandard: 47,
		models.RideComfort:  59, // 58.75
		models.RideXL:       71, // 70.5
	}
	for rt, want := range cases {
		if got := Estimate(5, rt); got != want {
			t.Fatalf("%s: expected %d, got %d", rt, want, got)
		}
	}
}

func TestMonotonicInDistance(t *testing.T) {
	for _, rt := range models.RideTypes {
		prev := Estimate(0, rt)
		for d := 0.1; d < 60; d += 0.1 {
			cur := Estimate(d, rt)
			if cur < prev {
				t.Fatalf("%s: fare decreased at %.1f km (%d < %d)", rt, d, cur, prev)
			}
			prev = cur
		}
	}
}

func TestNegativeDistanceClamps(t *testing.T) {
	if got := Estimate(-3, models.RideStandard); got != 12 {
		t.Fatalf("expected base fare 12, got %d", got)
	}
}

func TestUnknownTypeUsesStandard(t *testing.T) {
	if Estimate(5, "limo") != Estimate(5, models.RideStandard) {
		t.Fatal("unknown ride type should price as standard")
	}
}

func TestQuoteCoversAllTypes(t *testing.T) {
	q := Quote(5)
	if len(q) != len(models.RideTypes) || q[models.RideStandard] != 47 {
		t.Fatalf("unexpected quote %v", q)
	}
}
