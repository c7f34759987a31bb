// Package host runs agent workers the way a browser runs service workers.
//
// A Host keeps at most one active and one waiting worker. Registration
// walks a worker through installing, waiting, activating and active, and
// demotes whatever it replaces to redundant. Lifecycle events are
// serialised; fetch events run concurrently against the active worker.
//
// Connected pages register as clients. When a worker claims them every
// client receives a CONTROLLER_CHANGE frame naming the new version.
package host
