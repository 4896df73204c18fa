package alwaysoffline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// ErrUnknownSyncTag is returned by Sync for tags with no registered routine.
var ErrUnknownSyncTag = errors.New("unknown sync tag")

// SyncTagRefreshManifest re-fetches the manifest resources into the current
// store. The routine is registered on every worker.
const SyncTagRefreshManifest = "refresh-manifest"

// SyncTask is a deferred routine run when its sync tag fires.
// A returned error means this attempt failed and may be retried later: retry
// timing belongs to the scheduler that fires the tags, never to the worker.
type SyncTask func(ctx context.Context) error

// RegisterSync binds a routine to a sync tag, replacing any previous one.
func (w *Worker) RegisterSync(tag string, task SyncTask) {
	w.syncMutex.Lock()
	defer w.syncMutex.Unlock()
	w.syncTasks[tag] = task
}

// SyncTags returns all registered sync tags.
func (w *Worker) SyncTags() []string {
	w.syncMutex.Lock()
	defer w.syncMutex.Unlock()
	tags := make([]string, 0, len(w.syncTasks))
	for tag := range w.syncTasks {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Sync runs the routine registered for the given tag and returns its
// outcome as is, so the caller can schedule a retry.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	w.syncMutex.Lock()
	task, ok := w.syncTasks[tag]
	w.syncMutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSyncTag, tag)
	}
	log.Debug().Str("tag", tag).Msg("Running sync")
	if err := task(ctx); err != nil {
		log.Warn().Err(err).Str("tag", tag).Msg("Sync failed")
		return err
	}
	log.Debug().Str("tag", tag).Msg("Sync done")
	return nil
}

// refreshManifest re-populates the current store from the manifest, picking
// up content changes shipped without a version bump.
func (w *Worker) refreshManifest(ctx context.Context) error {
	phase := w.Phase()
	if phase != PhaseInstalled && phase != PhaseActive {
		return fmt.Errorf("cannot refresh manifest in %s phase", phase)
	}
	if err := w.resources.AddAll(ctx, w.manifest.criticalSet()); err != nil {
		return err
	}
	for _, url := range w.manifest.Optional {
		if err := w.resources.Add(ctx, url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Skipping optional resource")
		}
	}
	return nil
}
