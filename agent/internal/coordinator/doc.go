// Package coordinator drives the poll-fetch-update cycle.
//
// Coordinator is an explicit state machine (idle, fetching, errored) over an
// injected clockwork.Clock. Run refreshes once at start and then on every
// tick of the configured interval; Refresh may also be called directly for
// a manual update. Overlapping refreshes are coalesced with a weight-1
// semaphore: the late caller returns immediately, nothing is queued and the
// in-flight fetch is not cancelled.
//
// A refresh asks the Authenticator for a session, asks the Fetcher for the
// statistics page, and overwrites the single Reading on success. Failures
// are classified (authentication, transport, data_format) into LastError
// and never clear the previous Reading, so consumers keep seeing the last
// good value while the upstream is down.
package coordinator
