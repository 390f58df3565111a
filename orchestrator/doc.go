// Package orchestrator drives one report container through token cycles.
//
// # States
//
//	Idle ─> AwaitingAccessToken ─> AwaitingURLAndToken ─> Ready ─> Embedded
//	  │            │                       │
//	  └────────────┴───────────────────────┴──────────> Failed
//
// Mount starts a cycle from Idle. A cycle with an empty workspace or report
// id fails immediately without any network call. Otherwise the stages
// package fetches the access token, then the embed URL and embed token
// concurrently, and its join stage moves the orchestrator to Ready, which
// embeds the report and settles in Embedded.
//
// # Re-entry
//
// Render may be called any number of times. It starts a cycle only from
// Idle and embeds only from Ready, so repeated calls never fetch a token
// twice or embed twice.
//
// # Stale responses
//
// Each cycle carries a random id. Every stage outcome is applied only if its
// cycle is still current and the orchestrator is still in the state that was
// waiting for it. Anything else is counted and dropped. Unmount ends the
// current cycle; fetches already in flight are left to finish and their
// results are discarded.
//
// # Failure
//
// The first failure of a cycle moves it to Failed and replaces the container
// content with the report lines. A later failure of a sibling stage in the
// same cycle replaces the report; a later sibling success is discarded.
package orchestrator
