package alwaysoffline

import (
	"context"
	"fmt"
	"net/http"

	identity "github.com/always-offline/always-offline/pkg/request-identity"
	snapshot "github.com/always-offline/always-offline/pkg/response-snapshot"
	"github.com/always-offline/always-offline/store"

	"github.com/rs/zerolog/log"
)

// ResourceCache couples one version store with the origin it is populated
// from. Install time population and the router's write-backs both go through
// it, so every entry in the store is keyed and serialized the same way.
type ResourceCache struct {
	handle store.Handle
	keyer  identity.Keyer
	client *http.Client
}

func NewResourceCache(handle store.Handle, keyer identity.Keyer, client *http.Client) *ResourceCache {
	return &ResourceCache{
		handle: handle,
		keyer:  keyer,
		client: client,
	}
}

// Name returns the name of the underlying store.
func (c *ResourceCache) Name() string {
	return c.handle.Name()
}

// Add fetches one resource from the origin and stores it.
// Anything but a success status is an error.
func (c *ResourceCache) Add(ctx context.Context, url string) error {
	key, snap, err := c.fetchURL(ctx, url)
	if err != nil {
		return err
	}
	return c.PutSnapshot(ctx, key, snap)
}

// AddAll fetches all given resources and stores them with all-or-nothing
// semantics: every resource is fetched before anything is written, and any
// single failure aborts the whole batch with nothing stored.
func (c *ResourceCache) AddAll(ctx context.Context, urls []string) error {
	keys := make([]string, 0, len(urls))
	snaps := make([]snapshot.Snapshot, 0, len(urls))
	for _, url := range urls {
		key, snap, err := c.fetchURL(ctx, url)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		snaps = append(snaps, snap)
	}
	for i, key := range keys {
		if err := c.PutSnapshot(ctx, key, snaps[i]); err != nil {
			return err
		}
	}
	return nil
}

// PutSnapshot stores an already fetched response under the given key.
func (c *ResourceCache) PutSnapshot(ctx context.Context, key string, snap snapshot.Snapshot) error {
	responseBytes, err := snap.Bytes()
	if err != nil {
		return err
	}
	if err := c.handle.Put(ctx, key, responseBytes); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not write to store")
		return err
	}
	log.Trace().Str("key", key).Msg("Store write")
	return nil
}

// Match returns the stored response for the given request, if any.
func (c *ResourceCache) Match(ctx context.Context, r *http.Request) (snapshot.Snapshot, bool, error) {
	return c.lookup(ctx, c.keyer.ForRequest(r))
}

// MatchURL returns the stored response for a GET of the given URL, if any.
func (c *ResourceCache) MatchURL(ctx context.Context, url string) (snapshot.Snapshot, bool, error) {
	key, err := c.keyer.ForURL(url)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}
	return c.lookup(ctx, key)
}

// Keys returns the identities of all stored entries.
func (c *ResourceCache) Keys(ctx context.Context) ([]string, error) {
	return c.handle.Keys(ctx)
}

func (c *ResourceCache) lookup(ctx context.Context, key string) (snapshot.Snapshot, bool, error) {
	stored, found, err := c.handle.Get(ctx, key)
	if err != nil || !found {
		return snapshot.Snapshot{}, false, err
	}
	snap, err := snapshot.FromBytes(stored)
	if err != nil {
		// an entry that does not parse is as good as absent
		log.Warn().Err(err).Str("key", key).Msg("Ignoring unreadable store entry")
		return snapshot.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (c *ResourceCache) fetchURL(ctx context.Context, url string) (string, snapshot.Snapshot, error) {
	key, err := c.keyer.ForURL(url)
	if err != nil {
		return "", snapshot.Snapshot{}, err
	}
	req, err := c.keyer.RequestFromKey(key)
	if err != nil {
		return "", snapshot.Snapshot{}, err
	}
	res, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return "", snapshot.Snapshot{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer res.Body.Close()
	snap, err := snapshot.Take(res)
	if err != nil {
		return "", snapshot.Snapshot{}, fmt.Errorf("reading %s: %w", url, err)
	}
	if !snap.Successful() {
		return "", snapshot.Snapshot{}, fmt.Errorf("fetching %s: unexpected status %d", url, snap.StatusCode)
	}
	return key, snap, nil
}
