// Package pagination fetches pages of a Hacker News listing.
//
// An Orchestrator keeps the ordered ids of each listing in a ListingCache,
// slices one page out of it and fetches every item of the page concurrently.
// While the page fills it reports a Partial through its task.Progress: first
// every slot holds only its id, then each slot is re-reported as its item
// arrives.
//
// Example usage:
//
//	orch := pagination.New(hnClient, pagination.NewListingCache(), pagination.DefaultConfig())
//	runner := task.New(orch.Producer(), task.DefaultConfig("front-page"))
//	runner.Start(pagination.PageRequest{Page: 0})
//
// The orchestrator:
//   - Fetches the listing only when forced or not cached yet
//   - Returns an empty page past the end of the listing
//   - Bounds parallel item fetches (default 10)
//   - Optionally staggers fetch starts so rows fill bottom-up
//   - Fails the page with deadline.ErrTimeout after Config.Deadline
//
// Only stories and jobs are returned. Other item types resolve their slot
// but are left out of the final page.
package pagination
