package market

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var pairPattern = regexp.MustCompile(`^[A-Z0-9]{2,12}/[A-Z0-9]{2,12}$`)

// NormalizePair upper-cases a pair and accepts "-" or "_" as separator.
func NormalizePair(pair string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	p = strings.NewReplacer("-", "/", "_", "/").Replace(p)
	if !pairPattern.MatchString(p) {
		return "", Invalid("invalid pair %q", pair)
	}
	return p, nil
}

// Scale is the fixed-point precision of one pair.
type Scale struct {
	Price int32 `mapstructure:"price_scale"`
	Size  int32 `mapstructure:"size_scale"`
}

// ToTicks converts d to an integer count of 10^-scale units. Excess precision
// and values outside int64 are rejected.
func ToTicks(d decimal.Decimal, scale int32) (int64, error) {
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, Invalid("%s has more than %d decimal places", d, scale)
	}
	if shifted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || shifted.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, Invalid("%s is out of range", d)
	}
	return shifted.IntPart(), nil
}

func FromTicks(v int64, scale int32) decimal.Decimal {
	return decimal.New(v, -scale)
}

// Normalized is a validated request in integer units.
type Normalized struct {
	Pair  string
	Side  Side
	Type  OrderType
	Qty   int64
	Price int64
}

// Validate checks pair, side, type, amount and limit price against scale
// without touching any book state.
func (r *OrderRequest) Validate(scale Scale) (Normalized, error) {
	var n Normalized
	pair, err := NormalizePair(r.Pair)
	if err != nil {
		return n, err
	}
	n.Pair = pair

	switch r.Side {
	case Buy, Sell:
		n.Side = r.Side
	default:
		return n, Invalid("invalid side %q", r.Side)
	}

	switch r.Type {
	case Limit, Market:
		n.Type = r.Type
	default:
		return n, Invalid("invalid order type %q", r.Type)
	}

	if !r.Amount.IsPositive() {
		return n, Invalid("amount must be positive, got %s", r.Amount)
	}
	if n.Qty, err = ToTicks(r.Amount, scale.Size); err != nil {
		return n, err
	}

	if n.Type == Limit {
		if !r.Price.IsPositive() {
			return n, Invalid("limit order needs a positive price, got %s", r.Price)
		}
		if n.Price, err = ToTicks(r.Price, scale.Price); err != nil {
			return n, err
		}
	}
	return n, nil
}
