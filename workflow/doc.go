// Package workflow runs small graphs of dependent stages.
//
// Dependencies are declared as struct fields rather than registered
// explicitly. Given
//
//	type FetchURL struct {
//	    Token  *FetchToken             // stage dependency, injected
//	    Client Fetcher                 // injected value (interface match)
//	    Report config.Report `config:"report"`
//	}
//
//	type Join struct {
//	    _ *FetchURL                    // ordering only
//	    _ *FetchEmbedToken
//	}
//
// the engine runs FetchToken first, then FetchURL and FetchEmbedToken
// concurrently, then Join once both succeeded. Each stage owns a completion
// channel that is closed when it finishes; dependents block on those channels
// so the join needs no extra bookkeeping.
//
// Result states progress NotStarted -> Pending -> Running -> Completed, or
// end in Skipped when a dependency failed or the context was cancelled.
// Wiring failures (cycles, nil dependencies, bad config paths) leave every
// stage NotStarted with the wiring error attached.
package workflow
