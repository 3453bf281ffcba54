package server

import "sync/atomic"

// IDGenerator assigns unique connection ids. Ids start at 1, increase
// monotonically with every Next call, and are never reset or reused, even
// after the connection they were assigned to ends.
//
// The zero value is ready to use. Generators are passed by handle rather
// than hidden behind package state so tests can run against a fresh counter;
// DefaultIDs is the process-wide instance shared by all Instances that do
// not configure their own.
type IDGenerator struct {
	n atomic.Uint64
}

// DefaultIDs is the process-wide connection id counter.
var DefaultIDs = new(IDGenerator)

// Next returns the next connection id.
func (g *IDGenerator) Next() uint64 {
	return g.n.Add(1)
}

// Current returns the most recently assigned id, or 0 if none was assigned.
func (g *IDGenerator) Current() uint64 {
	return g.n.Load()
}
