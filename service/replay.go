package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"ixtrade/domain/market"
	"ixtrade/domain/orderbook"
	"ixtrade/infra/wal/entry"
	"ixtrade/snapshot"
)

type ReplayStats struct {
	Pairs   int
	Records int
	Trades  int
}

// ReplayJournal rebuilds every pair that has a snapshot or a journal:
// load the snapshot if any, then re-execute newer journal records. It must
// run before the engine takes traffic.
//
// Replayed trades keep their original ids and are handed to the trade
// sink again; settlement recognises them as duplicates.
func (e *Engine) ReplayJournal(ctx context.Context, snapshotDir string) (ReplayStats, error) {
	var st ReplayStats
	pairs, err := e.recoverablePairs(snapshotDir)
	if err != nil {
		return st, err
	}

	for _, pair := range pairs {
		if e.lookup(pair) != nil {
			return st, errors.Newf("replay %s: pair already has a live book", pair)
		}

		pb := e.newPairBook(pair)
		records, trades, err := e.replayPair(pb, snapshotDir)
		if err != nil {
			return st, errors.Wrapf(err, "replay %s", pair)
		}
		if err := e.openJournal(pb); err != nil {
			return st, err
		}

		e.mu.Lock()
		e.pairs[pair] = pb
		e.mu.Unlock()

		st.Pairs++
		st.Records += records
		st.Trades += len(trades)
		e.log.Info("pair recovered",
			zap.String("pair", pair),
			zap.Int("records", records),
			zap.Int("trades", len(trades)),
			zap.Uint64("seq", pb.seq.Current()),
		)

		if err := e.handoff(ctx, trades); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (e *Engine) replayPair(pb *pairBook, snapshotDir string) (int, []market.Trade, error) {
	var after uint64
	if snapshotDir != "" {
		s, err := snapshot.Load(snapshotDir, pb.pair)
		if err != nil {
			return 0, nil, err
		}
		if s != nil {
			if err := e.restore(pb, s); err != nil {
				return 0, nil, err
			}
			after = s.Seq
		}
	}
	if e.cfg.JournalDir == "" {
		return 0, nil, nil
	}
	dir := e.journalDir(pb.pair)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return 0, nil, nil
	}

	var (
		records int
		trades  []market.Trade
		cmd     command
	)
	_, err := entry.Replay(dir, after, func(rec *entry.Record) error {
		records++
		if err := cmd.unmarshal(rec.Data); err != nil {
			return errors.Wrapf(err, "record %d", rec.Seq)
		}
		at := time.Unix(0, rec.Time)

		switch rec.Type {
		case entry.RecordSubmit:
			o := &orderbook.Order{
				ID:     cmd.ID,
				UserID: cmd.UserID,
				Side:   cmd.Side,
				Type:   cmd.Type,
				Qty:    cmd.Qty,
				Price:  cmd.Price,
				Time:   cmd.Time,
				Seq:    rec.Seq,
				Status: orderbook.Open,
			}
			if _, dup := e.index.LoadOrStore(o.ID, pb); dup {
				return errors.Newf("record %d: order %s already resting", rec.Seq, o.ID)
			}
			pb.seq.Advance(rec.Seq)
			pb.epoch = cmd.Epoch
			if pb.epoch == "" {
				pb.epoch = e.cfg.Epoch
			}
			var err error
			trades, err = e.execute(pb, o, false, at, trades, nil)
			return err

		case entry.RecordCancel:
			pb.seq.Advance(rec.Seq)
			_, err := e.cancel(pb, cmd.ID, rec.Seq, at, nil)
			return err

		default:
			return errors.Newf("record %d: unknown type %d", rec.Seq, rec.Type)
		}
	})
	pb.epoch = e.cfg.Epoch
	return records, trades, err
}

func (e *Engine) restore(pb *pairBook, s *snapshot.Snapshot) error {
	for _, oe := range s.Orders {
		o := &orderbook.Order{
			ID:     oe.ID,
			UserID: oe.UserID,
			Side:   orderbook.Side(oe.Side),
			Type:   orderbook.Limit,
			Price:  oe.Price,
			Qty:    oe.Qty,
			Filled: oe.Filled,
			Seq:    oe.Seq,
			Time:   oe.Time,
			Status: orderbook.Open,
		}
		if o.Filled > 0 {
			o.Status = orderbook.PartiallyFilled
		}
		if err := pb.book.Restore(o); err != nil {
			return errors.Wrapf(err, "restore order %s", oe.ID)
		}
		pb.orders[o.ID] = resting{order: o}
		e.index.Store(o.ID, pb)
	}

	pb.seq.Advance(s.Seq)
	pb.tradeSeq.Advance(s.TradeSeq)
	if len(s.Stats.Buckets) == len(pb.stats.Buckets) {
		w := s.Stats
		pb.stats = &w
	}
	for _, t := range s.Trades {
		pb.history.Add(t)
	}
	return nil
}

// recoverablePairs lists pairs with a journal directory or a snapshot file.
func (e *Engine) recoverablePairs(snapshotDir string) ([]string, error) {
	seen := map[string]struct{}{}
	add := func(name string) {
		if pair, err := market.NormalizePair(name); err == nil {
			seen[pair] = struct{}{}
		}
	}

	if e.cfg.JournalDir != "" {
		entries, err := os.ReadDir(e.cfg.JournalDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, de := range entries {
			if de.IsDir() {
				add(de.Name())
			}
		}
	}
	if snapshotDir != "" {
		matches, err := filepath.Glob(filepath.Join(snapshotDir, "*.snap"))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			add(strings.TrimSuffix(filepath.Base(m), ".snap"))
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
