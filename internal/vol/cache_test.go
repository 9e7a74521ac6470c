package vol

import (
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

func TestSigmaFallsBackToDefault(t *testing.T) {
	c := NewCache(0.02, time.Minute)

	if got := c.Sigma("BTC/USDC"); got != 0.02 {
		t.Errorf("absent symbol: sigma = %v, want default 0.02", got)
	}

	c.Set(domain.VolatilityEntry{Symbol: "BTC/USDC", Sigma: 0.005, UpdatedAt: time.Now()})
	if got := c.Sigma("BTC/USDC"); got != 0.005 {
		t.Errorf("fresh entry: sigma = %v, want 0.005", got)
	}

	c.Set(domain.VolatilityEntry{Symbol: "ETH/USDC", Sigma: 0.01, UpdatedAt: time.Now().Add(-2 * time.Minute)})
	if got := c.Sigma("ETH/USDC"); got != 0.02 {
		t.Errorf("expired entry: sigma = %v, want default 0.02", got)
	}
}

func TestComputeSigma(t *testing.T) {
	base := time.Now()
	mk := func(mids ...float64) []sample {
		out := make([]sample, len(mids))
		for i, m := range mids {
			out[i] = sample{mid: m, ts: base.Add(time.Duration(i) * time.Second)}
		}
		return out
	}

	t.Run("constant price has zero sigma", func(t *testing.T) {
		sigma, _, ok := computeSigma(mk(100, 100, 100, 100))
		if !ok {
			t.Fatal("computeSigma not ok")
		}
		if sigma != 0 {
			t.Errorf("sigma = %v, want 0", sigma)
		}
	})

	t.Run("too few samples", func(t *testing.T) {
		if _, _, ok := computeSigma(mk(100, 101)); ok {
			t.Error("expected not ok with two samples")
		}
	})

	t.Run("known alternating series", func(t *testing.T) {
		// Returns alternate +r, -r with r = ln(101/100); sample stddev of
		// {r,-r,r} at 1s spacing.
		sigma, n, ok := computeSigma(mk(100, 101, 100, 101))
		if !ok {
			t.Fatal("computeSigma not ok")
		}
		if n != 4 {
			t.Errorf("n = %d, want 4", n)
		}
		r := math.Log(101.0 / 100.0)
		mean := r / 3
		want := math.Sqrt(((r-mean)*(r-mean) + (-r-mean)*(-r-mean) + (r-mean)*(r-mean)) / 2)
		if math.Abs(sigma-want) > 1e-12 {
			t.Errorf("sigma = %v, want %v", sigma, want)
		}
	})

	t.Run("wider spacing lowers sigma", func(t *testing.T) {
		tight, _, _ := computeSigma(mk(100, 101, 100, 101))
		spaced := []sample{
			{mid: 100, ts: base},
			{mid: 101, ts: base.Add(4 * time.Second)},
			{mid: 100, ts: base.Add(8 * time.Second)},
			{mid: 101, ts: base.Add(12 * time.Second)},
		}
		wide, _, ok := computeSigma(spaced)
		if !ok {
			t.Fatal("computeSigma not ok")
		}
		if wide >= tight {
			t.Errorf("sigma with 4s spacing (%v) should be below 1s spacing (%v)", wide, tight)
		}
	})
}

func TestWindowRing(t *testing.T) {
	w := &window{samples: make([]sample, 3)}
	for i := 1; i <= 5; i++ {
		w.push(sample{mid: float64(i)})
	}
	got := w.ordered()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []float64{3, 4, 5} {
		if got[i].mid != want {
			t.Errorf("ordered[%d].mid = %v, want %v", i, got[i].mid, want)
		}
	}
}
