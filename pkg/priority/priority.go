// Package priority maps upload sizes to queue priority tiers.
package priority

const (
	mib = 1 << 20

	// Tier boundaries are exclusive upper bounds in bytes.
	tier1Limit = 1 * mib
	tier2Limit = 10 * mib
	tier3Limit = 50 * mib
	tier4Limit = 100 * mib
)

// Priority tiers; a smaller value is served first.
const (
	Highest = 1
	High    = 2
	Normal  = 3
	Low     = 4
	Lowest  = 5
)

// Classify returns the priority tier for a payload of sizeBytes.
// Negative sizes classify as empty payloads.
func Classify(sizeBytes int64) int {
	switch {
	case sizeBytes < tier1Limit:
		return Highest
	case sizeBytes < tier2Limit:
		return High
	case sizeBytes < tier3Limit:
		return Normal
	case sizeBytes < tier4Limit:
		return Low
	default:
		return Lowest
	}
}
