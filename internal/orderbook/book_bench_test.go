package orderbook

import (
	"testing"

	"feedengine/internal/domain"
	"feedengine/pkg/fixed"
)

// BenchmarkApplyUpdate_Hotpath measures the per-update cost on the
// compute core's hottest path: a handful of level mutations followed
// by a cache invalidation.
func BenchmarkApplyUpdate_Hotpath(b *testing.B) {
	book := New("BTCUSDT", 10)
	book.ApplySnapshot(&domain.DepthSnapshot{
		LastUpdateID: 0,
		Bids:         seedLevels(100, -1),
		Asks:         seedLevels(100, 1),
	})

	upd := &domain.DepthUpdate{
		FinalUpdateID: 1,
		Bids:          []domain.PriceLevel{{Price: fixed.MustParse("99.50"), Qty: 5}},
		Asks:          []domain.PriceLevel{{Price: fixed.MustParse("100.50"), Qty: 5}},
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		upd.FinalUpdateID = uint64(i + 1)
		book.ApplyUpdate(upd)
	}
}

// BenchmarkSnapshot_CachedBest measures Snapshot() cost once the
// best-of-side cache is warm (the common case between mutations).
func BenchmarkSnapshot_CachedBest(b *testing.B) {
	book := New("BTCUSDT", 10)
	book.ApplySnapshot(&domain.DepthSnapshot{
		Bids: seedLevels(50, -1),
		Asks: seedLevels(50, 1),
	})
	book.Snapshot() // warm the cache

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		book.Snapshot()
	}
}

func seedLevels(n int, dir int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, n)
	base := 100.0
	for i := 0; i < n; i++ {
		price := base + float64(dir)*float64(i)
		out = append(out, domain.PriceLevel{Price: fixed.FromFloat64(price), Qty: 1})
	}
	return out
}
