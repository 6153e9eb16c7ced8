// Package types defines the shared Go types passed between the polling
// coordinator and the surfaces that expose its result: the latest Reading,
// the coordinator state, and the classified fetch error.
package types
