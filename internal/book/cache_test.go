package book

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func lvl(price, qty float64) domain.PriceLevel {
	return domain.PriceLevel{
		Price: decimal.NewFromFloat(price),
		Qty:   decimal.NewFromFloat(qty),
	}
}

func snap(seq uint64, bids, asks []domain.PriceLevel) *domain.BookSnapshot {
	return &domain.BookSnapshot{
		Exchange:  "binance",
		Symbol:    "BTC/USDC",
		Bids:      bids,
		Asks:      asks,
		Sequence:  seq,
		UpdatedAt: time.Now(),
	}
}

func TestSnapshotThenRead(t *testing.T) {
	c := NewCache(25, testLogger())

	err := c.ApplySnapshot(snap(10,
		[]domain.PriceLevel{lvl(49990, 1), lvl(49980, 2)},
		[]domain.PriceLevel{lvl(50000, 1), lvl(50010, 2)},
	))
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	got, err := c.Read("binance", "BTC/USDC")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Sequence != 10 {
		t.Errorf("sequence = %d, want 10", got.Sequence)
	}
	bid, _ := got.BestBid()
	ask, _ := got.BestAsk()
	if !bid.Price.Equal(decimal.NewFromInt(49990)) || !ask.Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("top of book = %s/%s, want 49990/50000", bid.Price, ask.Price)
	}
}

func TestSnapshotSortsUnorderedLevels(t *testing.T) {
	c := NewCache(25, testLogger())
	err := c.ApplySnapshot(snap(1,
		[]domain.PriceLevel{lvl(49980, 2), lvl(49990, 1)},
		[]domain.PriceLevel{lvl(50010, 2), lvl(50000, 1)},
	))
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	got, err := c.Read("binance", "BTC/USDC")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Bids[0].Price.GreaterThan(got.Bids[1].Price) {
		t.Error("bids not sorted descending")
	}
	if !got.Asks[0].Price.LessThan(got.Asks[1].Price) {
		t.Error("asks not sorted ascending")
	}
}

func TestDeltaUpsertAndRemove(t *testing.T) {
	c := NewCache(25, testLogger())
	if err := c.ApplySnapshot(snap(10,
		[]domain.PriceLevel{lvl(49990, 1)},
		[]domain.PriceLevel{lvl(50000, 1), lvl(50010, 2)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	err := c.ApplyDelta(&domain.BookDelta{
		Exchange: "binance", Symbol: "BTC/USDC",
		FirstSeq: 11, LastSeq: 11, Ts: time.Now(),
		Changes: []domain.LevelChange{
			{Side: domain.AskSide, Price: decimal.NewFromInt(50000), Qty: decimal.Zero},     // remove best ask
			{Side: domain.AskSide, Price: decimal.NewFromInt(50005), Qty: decimal.NewFromInt(3)}, // insert
			{Side: domain.BidSide, Price: decimal.NewFromInt(49990), Qty: decimal.NewFromInt(5)}, // replace qty
		},
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	got, err := c.Read("binance", "BTC/USDC")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ask, _ := got.BestAsk()
	if !ask.Price.Equal(decimal.NewFromInt(50005)) || !ask.Qty.Equal(decimal.NewFromInt(3)) {
		t.Errorf("best ask = %s@%s, want 50005@3", ask.Price, ask.Qty)
	}
	bid, _ := got.BestBid()
	if !bid.Qty.Equal(decimal.NewFromInt(5)) {
		t.Errorf("best bid qty = %s, want 5", bid.Qty)
	}
}

// Scenario: updates arrive with seq 10, 11, 13. The gap at 13 marks the
// entry stale and requests a resync; a later full snapshot clears it.
func TestSequenceGapStaleThenResync(t *testing.T) {
	c := NewCache(25, testLogger())
	if err := c.ApplySnapshot(snap(10,
		[]domain.PriceLevel{lvl(2999, 10)},
		[]domain.PriceLevel{lvl(3000, 10)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	okDelta := &domain.BookDelta{
		Exchange: "binance", Symbol: "BTC/USDC",
		FirstSeq: 11, LastSeq: 11, Ts: time.Now(),
		Changes: []domain.LevelChange{{Side: domain.BidSide, Price: decimal.NewFromInt(2999), Qty: decimal.NewFromInt(9)}},
	}
	if err := c.ApplyDelta(okDelta); err != nil {
		t.Fatalf("contiguous delta: %v", err)
	}

	gap := &domain.BookDelta{
		Exchange: "binance", Symbol: "BTC/USDC",
		FirstSeq: 13, LastSeq: 13, Ts: time.Now(),
		Changes: []domain.LevelChange{{Side: domain.BidSide, Price: decimal.NewFromInt(2999), Qty: decimal.NewFromInt(8)}},
	}
	if err := c.ApplyDelta(gap); !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("gap delta: got %v, want ErrSequenceGap", err)
	}

	if _, err := c.Read("binance", "BTC/USDC"); !errors.Is(err, domain.ErrStale) {
		t.Errorf("Read after gap: got %v, want ErrStale", err)
	}

	select {
	case req := <-c.Resyncs():
		if req.Symbol != "BTC/USDC" {
			t.Errorf("resync for %s, want BTC/USDC", req.Symbol)
		}
	default:
		t.Fatal("no resync request after sequence gap")
	}

	// Full snapshot at a later sequence clears stale.
	if err := c.ApplySnapshot(snap(14,
		[]domain.PriceLevel{lvl(2999, 10)},
		[]domain.PriceLevel{lvl(3000, 10)},
	)); err != nil {
		t.Fatalf("resync snapshot: %v", err)
	}
	if _, err := c.Read("binance", "BTC/USDC"); err != nil {
		t.Errorf("Read after resync: %v", err)
	}
}

func TestReplayDroppedSilently(t *testing.T) {
	c := NewCache(25, testLogger())
	if err := c.ApplySnapshot(snap(10,
		[]domain.PriceLevel{lvl(2999, 10)},
		[]domain.PriceLevel{lvl(3000, 10)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	replay := &domain.BookDelta{
		Exchange: "binance", Symbol: "BTC/USDC",
		FirstSeq: 9, LastSeq: 10, Ts: time.Now(),
		Changes: []domain.LevelChange{{Side: domain.BidSide, Price: decimal.NewFromInt(2999), Qty: decimal.NewFromInt(1)}},
	}
	if err := c.ApplyDelta(replay); err != nil {
		t.Fatalf("replay delta: %v", err)
	}
	got, err := c.Read("binance", "BTC/USDC")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	bid, _ := got.BestBid()
	if !bid.Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("replay mutated state: bid qty = %s, want 10", bid.Qty)
	}
}

// Scenario: an update crosses the book (bid 50100 over ask 50000). The
// entry goes stale and a resync is requested; no reads succeed until the
// resync snapshot arrives.
func TestCrossedBookMarksStale(t *testing.T) {
	c := NewCache(25, testLogger())
	err := c.ApplySnapshot(snap(1,
		[]domain.PriceLevel{lvl(50100, 1)},
		[]domain.PriceLevel{lvl(50000, 1)},
	))
	if !errors.Is(err, domain.ErrCrossedBook) {
		t.Fatalf("crossed snapshot: got %v, want ErrCrossedBook", err)
	}
	if _, err := c.Read("binance", "BTC/USDC"); !errors.Is(err, domain.ErrStale) {
		t.Errorf("Read of crossed book: got %v, want ErrStale", err)
	}
	select {
	case <-c.Resyncs():
	default:
		t.Error("no resync request after crossed book")
	}
}

// Scenario: a sequence gap requests a resync, but the re-fetched snapshot
// is itself crossed. The crossed snapshot must produce a fresh resync
// request instead of leaving the symbol stale with nothing in flight.
func TestCrossedResyncSnapshotReRequests(t *testing.T) {
	c := NewCache(25, testLogger())
	if err := c.ApplySnapshot(snap(10,
		[]domain.PriceLevel{lvl(49990, 1)},
		[]domain.PriceLevel{lvl(50000, 1)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	gap := &domain.BookDelta{
		Exchange: "binance", Symbol: "BTC/USDC",
		FirstSeq: 13, LastSeq: 13, Ts: time.Now(),
		Changes: []domain.LevelChange{{Side: domain.BidSide, Price: decimal.NewFromInt(49990), Qty: decimal.NewFromInt(2)}},
	}
	if err := c.ApplyDelta(gap); !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("gap delta: got %v, want ErrSequenceGap", err)
	}
	select {
	case <-c.Resyncs():
	default:
		t.Fatal("no resync request after sequence gap")
	}

	// The resync delivers a crossed snapshot.
	err := c.ApplySnapshot(snap(14,
		[]domain.PriceLevel{lvl(50100, 1)},
		[]domain.PriceLevel{lvl(50000, 1)},
	))
	if !errors.Is(err, domain.ErrCrossedBook) {
		t.Fatalf("crossed resync snapshot: got %v, want ErrCrossedBook", err)
	}
	select {
	case req := <-c.Resyncs():
		if req.Reason != "crossed snapshot" {
			t.Errorf("resync reason = %q, want crossed snapshot", req.Reason)
		}
	default:
		t.Fatal("no resync request after crossed resync snapshot")
	}

	// A clean snapshot finally recovers the symbol.
	if err := c.ApplySnapshot(snap(15,
		[]domain.PriceLevel{lvl(49990, 1)},
		[]domain.PriceLevel{lvl(50000, 1)},
	)); err != nil {
		t.Fatalf("clean resync snapshot: %v", err)
	}
	if _, err := c.Read("binance", "BTC/USDC"); err != nil {
		t.Errorf("Read after recovery: %v", err)
	}
}

// Scenario: the resync queue is full when a symbol goes stale, so its
// request is shed. The next delta on the stale symbol must re-request once
// the queue has room again.
func TestShedResyncReRequestedByNextDelta(t *testing.T) {
	c := NewCache(25, testLogger())

	// Fill the resync queue with other symbols.
	for i := 0; i < cap(c.resyncs); i++ {
		sym := fmt.Sprintf("FIL%d/USDC", i)
		if err := c.ApplySnapshot(&domain.BookSnapshot{
			Exchange:  "binance",
			Symbol:    sym,
			Bids:      []domain.PriceLevel{lvl(2999, 1)},
			Asks:      []domain.PriceLevel{lvl(3000, 1)},
			Sequence:  1,
			UpdatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("ApplySnapshot %s: %v", sym, err)
		}
		c.MarkStale("binance", sym, "ws_disconnect")
	}

	if err := c.ApplySnapshot(snap(10,
		[]domain.PriceLevel{lvl(49990, 1)},
		[]domain.PriceLevel{lvl(50000, 1)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	gap := &domain.BookDelta{
		Exchange: "binance", Symbol: "BTC/USDC",
		FirstSeq: 13, LastSeq: 13, Ts: time.Now(),
		Changes: []domain.LevelChange{{Side: domain.BidSide, Price: decimal.NewFromInt(49990), Qty: decimal.NewFromInt(2)}},
	}
	if err := c.ApplyDelta(gap); !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("gap delta: got %v, want ErrSequenceGap", err)
	}

	// The queue was full, so BTC/USDC's request was shed.
	for drained := true; drained; {
		select {
		case req := <-c.Resyncs():
			if req.Symbol == "BTC/USDC" {
				t.Fatal("shed request unexpectedly delivered")
			}
		default:
			drained = false
		}
	}

	// The next delta on the stale symbol re-requests.
	if err := c.ApplyDelta(gap); !errors.Is(err, domain.ErrStale) {
		t.Fatalf("delta on stale entry: got %v, want ErrStale", err)
	}
	select {
	case req := <-c.Resyncs():
		if req.Symbol != "BTC/USDC" {
			t.Errorf("resync for %s, want BTC/USDC", req.Symbol)
		}
	default:
		t.Fatal("no resync request after delta on stale entry")
	}
}

func TestFlagCrossedQuarantines(t *testing.T) {
	c := NewCache(25, testLogger())
	if err := c.ApplySnapshot(snap(1,
		[]domain.PriceLevel{lvl(49990, 1)},
		[]domain.PriceLevel{lvl(50000, 1)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	c.FlagCrossed("binance", "BTC/USDC")

	if _, err := c.Read("binance", "BTC/USDC"); !errors.Is(err, domain.ErrQuarantined) {
		t.Errorf("Read after quarantine: got %v, want ErrQuarantined", err)
	}

	// Quarantine is permanent: a fresh snapshot does not clear it.
	err := c.ApplySnapshot(snap(2,
		[]domain.PriceLevel{lvl(49990, 1)},
		[]domain.PriceLevel{lvl(50000, 1)},
	))
	if !errors.Is(err, domain.ErrQuarantined) {
		t.Errorf("snapshot on quarantined entry: got %v, want ErrQuarantined", err)
	}

	var quarantined bool
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == domain.BookEventQuarantined {
				quarantined = true
			}
			continue
		default:
		}
		break
	}
	if !quarantined {
		t.Error("no quarantine event emitted")
	}
}

func TestMarkAllStale(t *testing.T) {
	c := NewCache(25, testLogger())
	for _, sym := range []string{"BTC/USDC", "ETH/USDC"} {
		s := snap(1, []domain.PriceLevel{lvl(10, 1)}, []domain.PriceLevel{lvl(11, 1)})
		s.Symbol = sym
		if err := c.ApplySnapshot(s); err != nil {
			t.Fatalf("ApplySnapshot %s: %v", sym, err)
		}
	}

	c.MarkAllStale("binance", "feed disconnected")

	for _, sym := range []string{"BTC/USDC", "ETH/USDC"} {
		if _, err := c.Read("binance", sym); !errors.Is(err, domain.ErrStale) {
			t.Errorf("Read %s: got %v, want ErrStale", sym, err)
		}
	}
}

func TestReadTruncatesToDepth(t *testing.T) {
	c := NewCache(2, testLogger())
	if err := c.ApplySnapshot(snap(1,
		[]domain.PriceLevel{lvl(99, 1), lvl(98, 1), lvl(97, 1)},
		[]domain.PriceLevel{lvl(100, 1), lvl(101, 1), lvl(102, 1)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	got, err := c.Read("binance", "BTC/USDC")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Bids) != 2 || len(got.Asks) != 2 {
		t.Errorf("depth = %d/%d, want 2/2", len(got.Bids), len(got.Asks))
	}
}

// Every concurrent reader must observe a committed generation: a book where
// bid qty equals ask qty (the writer always publishes them in matching
// pairs). A mismatch would mean a torn read.
func TestConcurrentReadersSeeCommittedStates(t *testing.T) {
	c := NewCache(25, testLogger())
	if err := c.ApplySnapshot(snap(0,
		[]domain.PriceLevel{lvl(100, 1)},
		[]domain.PriceLevel{lvl(101, 1)},
	)); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	const generations = 2000
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := c.Read("binance", "BTC/USDC")
				if err != nil {
					continue
				}
				bid, _ := got.BestBid()
				ask, _ := got.BestAsk()
				if !bid.Qty.Equal(ask.Qty) {
					t.Errorf("torn read at seq %d: bid qty %s != ask qty %s",
						got.Sequence, bid.Qty, ask.Qty)
					return
				}
			}
		}()
	}

	for i := uint64(1); i <= generations; i++ {
		qty := decimal.NewFromInt(int64(i))
		err := c.ApplyDelta(&domain.BookDelta{
			Exchange: "binance", Symbol: "BTC/USDC",
			FirstSeq: i, LastSeq: i, Ts: time.Now(),
			Changes: []domain.LevelChange{
				{Side: domain.BidSide, Price: decimal.NewFromInt(100), Qty: qty},
				{Side: domain.AskSide, Price: decimal.NewFromInt(101), Qty: qty},
			},
		})
		if err != nil {
			t.Fatalf("ApplyDelta seq %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestAge(t *testing.T) {
	c := NewCache(25, testLogger())
	s := snap(1, []domain.PriceLevel{lvl(10, 1)}, []domain.PriceLevel{lvl(11, 1)})
	s.UpdatedAt = time.Now().Add(-5 * time.Second)
	if err := c.ApplySnapshot(s); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	age, err := c.Age("binance", "BTC/USDC")
	if err != nil {
		t.Fatalf("Age: %v", err)
	}
	if age < 5*time.Second || age > 6*time.Second {
		t.Errorf("age = %s, want ~5s", age)
	}
}

func BenchmarkApplyDelta(b *testing.B) {
	c := NewCache(25, testLogger())
	bids := make([]domain.PriceLevel, 25)
	asks := make([]domain.PriceLevel, 25)
	for i := 0; i < 25; i++ {
		bids[i] = lvl(100-float64(i), 1)
		asks[i] = lvl(101+float64(i), 1)
	}
	if err := c.ApplySnapshot(snap(0, bids, asks)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.ApplyDelta(&domain.BookDelta{
			Exchange: "binance", Symbol: "BTC/USDC",
			FirstSeq: uint64(i + 1), LastSeq: uint64(i + 1), Ts: time.Now(),
			Changes: []domain.LevelChange{
				{Side: domain.BidSide, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(int64(i%10 + 1))},
			},
		})
	}
}
