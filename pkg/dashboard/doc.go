// Package dashboard polls the whtop API for the panels a dashboard shows.
//
// A Poller fetches every configured panel in parallel through a small worker
// pool and assembles the results into a Frame. A failed panel does not fail
// the frame: its error is recorded and the other panels are still returned.
//
// Example usage:
//
//	c, _ := client.New(client.DefaultConfig("http://localhost:8080"))
//	poller := dashboard.NewPoller(c, dashboard.DefaultConfig())
//	err := poller.Run(ctx, func(frame *dashboard.Frame) {
//		render(frame)
//	})
//
// The poller:
//   - Fetches all panels concurrently (default 3 workers)
//   - Bounds each panel fetch with its own timeout
//   - Returns partial frames when some panels fail
//   - Follows the server's max-age when FollowMaxAge is set
package dashboard
