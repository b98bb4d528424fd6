package market

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	statsBucketSpan = time.Minute
	statsBuckets    = 24 * 60
)

// StatsBucket aggregates one minute of trades, in ticks and lots.
type StatsBucket struct {
	Minute int64
	High   int64
	Low    int64
	Volume int64
	Count  int64
}

// StatsWindow keeps a rolling 24h ticker in one-minute buckets. Updates are
// O(1); reads fold at most 1440 buckets. Fields are exported for snapshots.
type StatsWindow struct {
	Buckets  []StatsBucket
	Last     int64
	LastTime int64
	HasData  bool
}

func NewStatsWindow() *StatsWindow {
	return &StatsWindow{Buckets: make([]StatsBucket, statsBuckets)}
}

// Record folds one trade into the window.
func (w *StatsWindow) Record(price, qty int64, at time.Time) {
	minute := at.UnixNano() / int64(statsBucketSpan)
	b := &w.Buckets[minute%statsBuckets]
	if b.Minute != minute || b.Count == 0 {
		*b = StatsBucket{Minute: minute, High: price, Low: price}
	}
	b.High = max(b.High, price)
	b.Low = min(b.Low, price)
	b.Volume += qty
	b.Count++

	if !w.HasData || at.UnixNano() >= w.LastTime {
		w.Last = price
		w.LastTime = at.UnixNano()
	}
	w.HasData = true
}

// Snapshot folds the buckets of the last 24h relative to now.
func (w *StatsWindow) Snapshot(pair string, now time.Time, scale Scale) Stats {
	s := Stats{Pair: pair}
	if !w.HasData {
		return s
	}

	nowMinute := now.UnixNano() / int64(statsBucketSpan)
	var high, low, volume, count int64
	for i := range w.Buckets {
		b := &w.Buckets[i]
		if b.Count == 0 || b.Minute <= nowMinute-statsBuckets || b.Minute > nowMinute {
			continue
		}
		if count == 0 {
			high, low = b.High, b.Low
		} else {
			high = max(high, b.High)
			low = min(low, b.Low)
		}
		volume += b.Volume
		count += b.Count
	}

	s.HasData = true
	s.LastPrice = FromTicks(w.Last, scale.Price)
	s.TradeCount24h = count
	s.Volume24h = FromTicks(volume, scale.Size)
	s.UpdatedAt = time.Unix(0, w.LastTime).UTC()
	if count > 0 {
		s.High24h = FromTicks(high, scale.Price)
		s.Low24h = FromTicks(low, scale.Price)
	} else {
		s.High24h = decimal.Zero
		s.Low24h = decimal.Zero
		s.Volume24h = decimal.Zero
	}
	return s
}
