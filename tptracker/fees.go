package tptracker

const (
	// ListingFeePercent is charged once when a sell order is placed.
	ListingFeePercent = 5
	// ExchangeFeePercent is charged on every filled quantity of a sell order.
	ExchangeFeePercent = 10
)

// ListingFee returns floor(price*quantity*5/100) for sells and 0 for buys.
func ListingFee(side Side, price, quantity int64) int64 {
	if side != SideSell {
		return 0
	}
	return percentOf(price*quantity, ListingFeePercent)
}

// ExchangeFee returns floor(price*quantity*10/100) for sells and 0 for buys.
func ExchangeFee(side Side, price, quantity int64) int64 {
	if side != SideSell {
		return 0
	}
	return percentOf(price*quantity, ExchangeFeePercent)
}

// Amounts are never negative here, so integer division truncates toward
// zero which equals floor.
func percentOf(amount, pct int64) int64 {
	return amount * pct / 100
}
