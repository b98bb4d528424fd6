package service

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"ixtrade/domain/orderbook"
	"ixtrade/snapshot"
)

// StartSnapshotJob snapshots every pair each interval until ctx ends.
func (e *Engine) StartSnapshotJob(ctx context.Context, dir string, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := e.SnapshotAll(dir); err != nil {
					e.log.Warn("snapshot failed", zap.Error(err))
				}
			}
		}
	}()
}

// SnapshotAll writes one snapshot per pair, then drops journal segments the
// snapshot covers. Halted books are skipped so their journal stays intact.
func (e *Engine) SnapshotAll(dir string) error {
	w := &snapshot.Writer{Dir: dir}

	var errs error
	for _, pair := range e.Pairs() {
		pb := e.lookup(pair)

		pb.mu.RLock()
		if pb.book.Halted() != nil {
			pb.mu.RUnlock()
			continue
		}
		s := pb.snapshot(e.now())
		pb.mu.RUnlock()

		if err := w.Write(s); err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}

		pb.mu.Lock()
		if pb.journal != nil {
			err := pb.journal.wal.Rotate()
			if err == nil {
				err = pb.journal.wal.TruncateBefore(s.Seq)
			}
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "truncate journal %s", pair))
		}
		pb.mu.Unlock()
	}
	return errs
}

// snapshot copies the pair state. Caller holds pb.mu.
func (pb *pairBook) snapshot(now time.Time) *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		Pair:     pb.pair,
		Seq:      pb.seq.Current(),
		TradeSeq: pb.tradeSeq.Current(),
		Created:  now,
		Orders:   make([]snapshot.OrderEntry, 0, len(pb.orders)),
		Stats:    *pb.stats,
		Trades:   pb.history.All(),
	}
	s.Stats.Buckets = slices.Clone(pb.stats.Buckets)

	walk := func(lvl *orderbook.PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			s.Orders = append(s.Orders, snapshot.OrderEntry{
				ID:     o.ID,
				UserID: o.UserID,
				Side:   uint8(o.Side),
				Price:  o.Price,
				Qty:    o.Qty,
				Filled: o.Filled,
				Seq:    o.Seq,
				Time:   o.Time,
			})
		}
		return true
	}
	pb.book.BidsWalk(walk)
	pb.book.AsksWalk(walk)
	return s
}
