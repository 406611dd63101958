// Package lifecycle translates the lifecycle notifications of a host (save
// loaded, game saved, frame tick) into calls on the store.
//
// The host clock is the sum of the tick deltas reported by the host on top of
// the driver epoch. The flush rate limit of the store therefore follows host
// time: a paused host does not flush, a host running at a different speed
// flushes at its own pace.
//
// Hosts without a frame callback can use Run, which drives NotifyTick from a
// wall-clock ticker until the context is cancelled.
package lifecycle
