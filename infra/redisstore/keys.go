package redisstore

import "fmt"

const (
	// MaxTrades bounds ixtrade:trades:{pair}.
	MaxTrades = 200
)

// Keys builds the shared keyspace names under one prefix.
type Keys struct {
	Prefix string
}

func (k Keys) Bids(pair string) string { return fmt.Sprintf("%s:orderbook:%s:bids", k.Prefix, pair) }
func (k Keys) Asks(pair string) string { return fmt.Sprintf("%s:orderbook:%s:asks", k.Prefix, pair) }
func (k Keys) Order(id string) string  { return fmt.Sprintf("%s:order:%s", k.Prefix, id) }
func (k Keys) Trades(pair string) string {
	return fmt.Sprintf("%s:trades:%s", k.Prefix, pair)
}
func (k Keys) Ticker(pair string) string {
	return fmt.Sprintf("%s:ticker:%s", k.Prefix, pair)
}

// Channels.
func (k Keys) OrderBookChannel(pair string) string {
	return fmt.Sprintf("%s:orderbook:%s", k.Prefix, pair)
}
func (k Keys) TradesChannel(pair string) string {
	return fmt.Sprintf("%s:trades:%s", k.Prefix, pair)
}
func (k Keys) OrdersChannel(pair string) string {
	return fmt.Sprintf("%s:orders:%s", k.Prefix, pair)
}
func (k Keys) TickerChannel(pair string) string {
	return fmt.Sprintf("%s:ticker:%s", k.Prefix, pair)
}
