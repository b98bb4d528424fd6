// Package service wires the domain packages into the running system.
//
// Engine owns one order book per pair and is the only write path into
// them: it validates, journals, matches and publishes. Orchestrator takes
// the trades the engine produces and settles them asynchronously against
// the external gateway. Both are constructed once at startup and shared
// by every transport.
package service
