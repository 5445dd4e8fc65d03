package topic

import (
	"fmt"
)

// Builder constructs topic strings under one root namespace.
type Builder struct {
	// root is the base namespace for all topics (e.g. "cabmeter/v1").
	root string
}

func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

func (b *Builder) TripCreate(deviceID string) string { return b.Build(SuffixTripCreate, deviceID) }
func (b *Builder) TripPatch(deviceID string) string  { return b.Build(SuffixTripPatch, deviceID) }
func (b *Builder) TripState(tripID string) string    { return b.Build(SuffixTripState, tripID) }

func (b *Builder) TripQueryReq(deviceID string) string  { return b.Build(SuffixTripQueryReq, deviceID) }
func (b *Builder) TripQueryResp(deviceID string) string { return b.Build(SuffixTripQueryResp, deviceID) }

func (b *Builder) Log(deviceID string) string    { return b.Build(SuffixLog, deviceID) }
func (b *Builder) Lock(deviceID string) string   { return b.Build(SuffixLock, deviceID) }
func (b *Builder) Unlock(deviceID string) string { return b.Build(SuffixUnlock, deviceID) }
func (b *Builder) Status(deviceID string) string { return b.Build(SuffixStatus, deviceID) }

// TripStateWildcard matches the state topic of every trip.
// Result: {root}/trip/state/+
func (b *Builder) TripStateWildcard() string {
	return b.Build(SuffixTripState, Wildcard)
}

// Build returns {root}/{suffix}/{id}.
func (b *Builder) Build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
