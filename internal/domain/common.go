package domain

// OrderSide represents the side of an executed trade (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// IsValid reports whether the side is one of the two known values.
func (s OrderSide) IsValid() bool {
	return s == Buy || s == Sell
}

// DustThreshold is the quantity below which a holding is considered
// economically dead. Positions whose total quantity falls to or below this
// value after a sell are dropped rather than tracked.
const DustThreshold = 1e-6

// quoteSuffixes lists the known quote assets used to split a concatenated
// symbol like "ETHUSDT" into base and quote. USDT takes precedence when a
// symbol could match more than one suffix.
var quoteSuffixes = []string{"USDT", "BTC", "ETH"}
