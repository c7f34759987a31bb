package agent

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
)

// SyncFunc runs one background sync task
type SyncFunc func(ctx context.Context) error

// HandleSync registers fn for tag, replacing any earlier task. Not safe
// once the worker is registered with a host.
func (w *Worker) HandleSync(tag string, fn SyncFunc) {
	w.syncs[tag] = fn
}

// SyncTags returns the tags this worker handles
func (w *Worker) SyncTags() []string {
	tags := make([]string, 0, len(w.syncs))
	for tag := range w.syncs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// OnSync runs the task registered for tag. Unknown tags are ignored and
// reported as not handled.
func (w *Worker) OnSync(ctx context.Context, tag string) (handled bool, err error) {
	w.logger.Info("Background sync", zap.String("tag", tag))

	fn, ok := w.syncs[tag]
	if !ok {
		return false, nil
	}

	timer := monitoring.NewTimer(w.metrics, "sync")
	err = fn(ctx)
	timer.Stop(err)
	return true, err
}

// syncScores has nothing to upload yet; scores live in the page's storage.
func (w *Worker) syncScores(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.logger.Debug("Syncing scores")
	return nil
}
