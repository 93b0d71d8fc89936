package destination

// Market describes a target market of the feed
type Market struct {
	Key      MarketKey
	Country  string
	Locale   string
	Currency string
}

// Keys returns the market keys in order
func Keys(markets []Market) []MarketKey {
	keys := make([]MarketKey, 0, len(markets))
	for _, m := range markets {
		keys = append(keys, m.Key)
	}
	return keys
}

// ByKey indexes markets by key
func ByKey(markets []Market) map[MarketKey]Market {
	out := make(map[MarketKey]Market, len(markets))
	for _, m := range markets {
		out[m.Key] = m
	}
	return out
}
