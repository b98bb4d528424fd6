package market

// MaxRecentTrades is the largest limit GetRecentTrades accepts.
const MaxRecentTrades = 200

// TradeHistory is a bounded ring of the most recent trades of one pair.
type TradeHistory struct {
	buf  []Trade
	next int
	size int
}

func NewTradeHistory(capacity int) *TradeHistory {
	if capacity < MaxRecentTrades {
		capacity = MaxRecentTrades
	}
	return &TradeHistory{buf: make([]Trade, capacity)}
}

func (h *TradeHistory) Add(t Trade) {
	h.buf[h.next] = t
	h.next = (h.next + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

func (h *TradeHistory) Len() int { return h.size }

// Recent copies up to limit trades, newest first.
func (h *TradeHistory) Recent(limit int) []Trade {
	n := min(limit, h.size)
	out := make([]Trade, 0, max(n, 0))
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// All returns the retained trades oldest first.
func (h *TradeHistory) All() []Trade {
	out := h.Recent(h.size)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
