package topic

// Topic segments shared by the meter and the ledger service.
// Changing these values breaks compatibility with deployed meters.
const (
	// SuffixTripCreate carries a new trip record (Meter -> Ledger).
	// Structure: {root}/trip/create/{deviceID}
	SuffixTripCreate = "trip/create"

	// SuffixTripPatch carries changed trip fields (Meter -> Ledger).
	// Structure: {root}/trip/patch/{deviceID}
	SuffixTripPatch = "trip/patch"

	// SuffixTripState carries the ledger's view of one trip (Ledger -> Meter).
	// Structure: {root}/trip/state/{tripID}
	SuffixTripState = "trip/state"

	// SuffixTripQueryReq asks for the last unended trip of a device (Meter -> Ledger).
	SuffixTripQueryReq = "trip/query/req"

	// SuffixTripQueryResp answers SuffixTripQueryReq (Ledger -> Meter).
	SuffixTripQueryResp = "trip/query/resp"

	// SuffixLog carries operational log records (Meter -> Ledger).
	SuffixLog = "log"

	// SuffixLock carries meter lock records (Meter -> Ledger).
	SuffixLock = "lock"

	// SuffixUnlock is the retained remote unlock flag (both directions).
	SuffixUnlock = "unlock"

	// SuffixStatus is the retained online flag, cleared by the will message.
	SuffixStatus = "status"
)

// Filter wildcards.
const (
	// Wildcard matches exactly one level, e.g. the trip id in {root}/trip/state/+.
	Wildcard = "+"

	// MultiWildcard matches the remaining levels and must close the filter.
	MultiWildcard = "#"
)
