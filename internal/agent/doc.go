// Package agent implements the offline cache agent.
//
// A Worker owns one versioned bucket and reacts to five events:
//
//   - OnInstall populates the bucket with the asset manifest, all or nothing
//   - OnActivate deletes every other bucket and claims clients
//   - OnFetch serves app-origin and CDN GETs cache-first
//   - OnMessage answers SKIP_WAITING and GET_VERSION
//   - OnSync runs background sync tasks by tag
//
// The worker never decides lifecycle transitions itself. It asks its host
// through Controls, and the host package drives the state machine.
package agent
