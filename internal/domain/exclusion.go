package domain

// ExclusionEntry marks an asset that must be hidden from balance and
// portfolio views, typically because it cannot currently be liquidated.
// Entries never expire on their own; removal is an explicit administrative
// action.
type ExclusionEntry struct {
	Asset   string // Excluded base asset
	Reason  string // Why the asset was excluded
	AddedAt int64  // When it was excluded, milliseconds since epoch
}
