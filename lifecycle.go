package alwaysoffline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Phase is the lifecycle state of a worker version.
type Phase string

const (
	// PhaseNew is a freshly created worker. It relays all traffic.
	PhaseNew Phase = "new"

	PhaseInstalling Phase = "installing"

	// PhaseInstalled is a worker whose store is fully populated but which
	// has not taken over routing yet (the waiting state).
	PhaseInstalled Phase = "installed"

	PhaseActivating Phase = "activating"

	// PhaseActive is the worker currently routing requests.
	PhaseActive Phase = "active"

	// PhaseRedundant is a worker whose install failed. It never serves.
	PhaseRedundant Phase = "redundant"
)

// Phase returns the current lifecycle phase.
func (w *Worker) Phase() Phase {
	w.phaseMutex.Lock()
	defer w.phaseMutex.Unlock()
	return w.phase
}

func (w *Worker) setPhase(phase Phase) {
	w.phaseMutex.Lock()
	w.phase = phase
	w.phaseMutex.Unlock()
}

func (w *Worker) transition(from, to Phase) error {
	w.phaseMutex.Lock()
	defer w.phaseMutex.Unlock()
	if w.phase != from {
		return fmt.Errorf("cannot enter %s phase from %s", to, w.phase)
	}
	w.phase = to
	return nil
}

// Install opens this version's store and populates it from the manifest.
// Critical resources are all or nothing: a single failure aborts the install
// and the worker never serves from an incomplete critical set. Optional
// resources are attempted independently, failures are logged and swallowed.
// Unless activation is deferred, a successful install activates right away.
func (w *Worker) Install(ctx context.Context) error {
	if w.manifest.Version == "" {
		return errors.New("manifest version is required")
	}
	if err := w.transition(PhaseNew, PhaseInstalling); err != nil {
		return err
	}
	log.Info().Str("store", w.StoreName()).Msg("Installing")

	handle, err := w.provider.Open(ctx, w.StoreName())
	if err != nil {
		w.setPhase(PhaseRedundant)
		return fmt.Errorf("opening store %s: %w", w.StoreName(), err)
	}
	resources := NewResourceCache(handle, w.keyer, &w.httpClient)

	if err := resources.AddAll(ctx, w.manifest.criticalSet()); err != nil {
		w.setPhase(PhaseRedundant)
		return fmt.Errorf("storing critical resources: %w", err)
	}
	for _, url := range w.manifest.Optional {
		if err := resources.Add(ctx, url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Skipping optional resource")
		}
	}

	w.resources = resources
	w.setPhase(PhaseInstalled)
	log.Info().Str("store", w.StoreName()).Msg("Installed")

	if w.deferActivation {
		return nil
	}
	return w.Activate(ctx)
}

// Activate prunes every other store in the namespace and claims all open
// sessions, so pages loaded under a previous version route through this one
// immediately. Enumeration and deletion failures abort the activation and
// leave the worker installed, ready for another attempt.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(PhaseInstalled, PhaseActivating); err != nil {
		return err
	}
	log.Info().Str("store", w.StoreName()).Msg("Activating")

	names, err := w.provider.Names(ctx)
	if err != nil {
		w.setPhase(PhaseInstalled)
		return fmt.Errorf("enumerating stores: %w", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, w.namespace+"-") || name == w.StoreName() {
			continue
		}
		if _, err := w.provider.Delete(ctx, name); err != nil {
			w.setPhase(PhaseInstalled)
			return fmt.Errorf("deleting stale store %s: %w", name, err)
		}
		log.Debug().Str("store", name).Msg("Deleted stale store")
	}

	claimed := w.sessions.Claim(w.StoreName())
	w.setPhase(PhaseActive)
	log.Info().Str("store", w.StoreName()).Int("sessions", claimed).Msg("Activated")
	return nil
}

// SkipWaiting promotes a worker waiting in the installed phase.
// For a worker in any other phase it is a no-op.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	if w.Phase() != PhaseInstalled {
		return nil
	}
	return w.Activate(ctx)
}
