// Package alwaysoffline implements an offline-capable gateway in front of a
// single origin. It populates a versioned store with the resources named in a
// manifest, serves live origin responses while the origin is reachable, and
// falls back to the store (and ultimately to an offline page or a synthetic
// response) when it is not.
package alwaysoffline

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	identity "github.com/always-offline/always-offline/pkg/request-identity"
	snapshot "github.com/always-offline/always-offline/pkg/response-snapshot"
	"github.com/always-offline/always-offline/sessions"
	"github.com/always-offline/always-offline/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultNamespace prefixes store names when no namespace is configured.
const DefaultNamespace = "always-offline"

// DefaultDenylist holds the third-party telemetry and social domains that are
// never intercepted. Passing an explicit non-nil Denylist in the config
// replaces this list.
var DefaultDenylist = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"facebook.com",
	"facebook.net",
	"twitter.com",
}

const unavailableBody = "You are offline and this resource is not cached.\n"

type Config struct {
	Provider   store.Provider
	Manifest   Manifest
	OriginURL  url.URL
	OriginHost string
	// Namespace prefixes the store name. Defaults to DefaultNamespace.
	Namespace string
	// Denylist holds host suffixes that are never intercepted.
	// Leave nil to use DefaultDenylist; set to an empty slice to
	// intercept everything.
	Denylist []string
	Sessions *sessions.Registry
	Notifier Notifier
	// DeferActivation leaves a freshly installed worker waiting until a
	// skip waiting command arrives, instead of activating right away.
	DeferActivation bool
}

// Worker is the interception layer for one origin and one manifest version.
// It is an http.Handler: requests it does not intercept are relayed to the
// origin unchanged.
type Worker struct {
	provider        store.Provider
	manifest        Manifest
	originURL       url.URL
	originHost      string
	namespace       string
	denylist        []string
	sessions        *sessions.Registry
	notifier        Notifier
	deferActivation bool

	// httpClient fetches from the origin and may carry the OriginHost
	// TLS override; proxyClient fetches absolute-URL targets with a
	// default transport so third-party handshakes are left alone.
	httpClient  http.Client
	proxyClient http.Client
	keyer       identity.Keyer

	phaseMutex sync.Mutex
	phase      Phase
	resources  *ResourceCache

	syncMutex sync.Mutex
	syncTasks map[string]SyncTask

	writes sync.WaitGroup
}

// CreateWorker initializes the worker instance.
// It does not install anything yet: the returned worker passes all traffic
// through to the origin until Install has run.
func CreateWorker(config Config) *Worker {
	w := &Worker{
		provider:        config.Provider,
		manifest:        config.Manifest,
		originURL:       config.OriginURL,
		originHost:      config.OriginHost,
		namespace:       config.Namespace,
		denylist:        config.Denylist,
		sessions:        config.Sessions,
		notifier:        config.Notifier,
		deferActivation: config.DeferActivation,
		phase:           PhaseNew,
		syncTasks:       make(map[string]SyncTask),
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	w.proxyClient = w.httpClient
	if w.namespace == "" {
		w.namespace = DefaultNamespace
	}
	if w.denylist == nil {
		w.denylist = DefaultDenylist
	}
	if w.sessions == nil {
		w.sessions = sessions.NewRegistry()
	}
	if w.notifier == nil {
		w.notifier = LogNotifier{}
	}
	w.keyer = identity.NewKeyer(w.originURL)

	// use provided hostname for origin if configured
	if w.originHost != "" {
		w.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: w.originHost,
			},
		}
	}

	w.RegisterSync(SyncTagRefreshManifest, w.refreshManifest)

	return w
}

// StoreName returns the name of this version's store.
func (w *Worker) StoreName() string {
	return w.namespace + "-" + w.manifest.Version
}

// Sessions returns the session registry the worker claims and focuses.
func (w *Worker) Sessions() *sessions.Registry {
	return w.sessions
}

// ServeHTTP implements the http.Handler interface.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer w.recover(rw, r)
	w.handle(rw, r)
}

// recover recovers from panics and sends the response to the escape hatch if needed.
func (w *Worker) recover(rw http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in request handler")
		w.passThrough(rw, r)
	}
}

// handle is the main entry point for the interception policy.
func (w *Worker) handle(rw http.ResponseWriter, r *http.Request) {
	log.Trace().Interface("headers", r.Header).Msgf("Incoming request: %s %s", r.Method, r.URL.Path)

	if !w.intercepts(r) {
		w.passThrough(rw, r)
		return
	}

	key := w.keyer.ForRequest(r)
	log := log.With().Str("key", key).Logger()

	var status SourceStatus

	res, err := w.fetch(r)
	if err == nil {
		snap, takeErr := snapshot.Take(res)
		if takeErr == nil {
			if snap.Successful() {
				w.storeCopy(key, snap)
			}
			status.Serve(SourceStatusNetwork)
			send(rw, snap, status)
			return
		}
		log.Debug().Err(takeErr).Msg("Origin response unreadable, treating as network failure")
		err = takeErr
	}
	log.Debug().Err(err).Msg("Origin unreachable, falling back to store")

	snap, found, matchErr := w.resources.Match(r.Context(), r)
	if matchErr != nil {
		log.Warn().Err(matchErr).Msg("Error matching request against store")
	}
	if found {
		status.Serve(SourceStatusStore)
		status.Detail(w.resources.Name())
		send(rw, snap, status)
		return
	}

	if isNavigation(r) && w.manifest.OfflineURL != "" {
		snap, found, matchErr = w.resources.MatchURL(r.Context(), w.manifest.OfflineURL)
		if matchErr != nil {
			log.Warn().Err(matchErr).Msg("Error matching offline page against store")
		}
		if found {
			status.Serve(SourceStatusOfflinePage)
			status.Detail(w.resources.Name())
			send(rw, snap, status)
			return
		}
	}

	status.Serve(SourceStatusSynthetic)
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Header().Set("Cache-Status", status.String())
	rw.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(rw, unavailableBody)
}

// intercepts decides whether the request goes through the offline policy at
// all. Everything else is relayed to the origin as is.
func (w *Worker) intercepts(r *http.Request) bool {
	if w.Phase() != PhaseActive {
		return false
	}
	if r.Method != http.MethodGet {
		return false
	}
	return !w.denylisted(r)
}

func (w *Worker) denylisted(r *http.Request) bool {
	target, err := url.Parse(w.keyer.Canonical(r.URL))
	if err != nil {
		return false
	}
	for _, pattern := range w.denylist {
		if hostMatches(target.Hostname(), pattern) {
			return true
		}
	}
	return false
}

// hostMatches reports whether host equals the pattern or is a subdomain of
// it. Matching on whole labels keeps a pattern like "twitter.com" from
// matching paths or hosts that merely contain the string.
func hostMatches(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(strings.TrimPrefix(pattern, "."))
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// isNavigation reports whether the request is a top-level document
// navigation. Sec-Fetch-Dest is authoritative when present, otherwise any
// GET asking for HTML is treated as a navigation.
func isNavigation(r *http.Request) bool {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// storeCopy schedules a write-back of a successful response. Storing must
// not slow down or fail the response already on its way to the client.
func (w *Worker) storeCopy(key string, snap snapshot.Snapshot) {
	w.writes.Add(1)
	go func() {
		defer w.writes.Done()
		if err := w.resources.PutSnapshot(context.Background(), key, snap); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Could not store response copy")
		}
	}()
}

// DrainWrites blocks until all scheduled write-backs have finished.
// Called before shutdown so a stored copy is not lost to an exiting process.
func (w *Worker) DrainWrites() {
	w.writes.Wait()
}

// fetch the resource specified in the incoming request.
// Proxy-form request lines carry their full target and are fetched from that
// host, everything else goes to the configured origin.
func (w *Worker) fetch(r *http.Request) (*http.Response, error) {
	uri := w.originURL.String() + r.URL.RequestURI()
	host := w.originHost
	client := &w.httpClient
	if r.URL.IsAbs() {
		uri = r.URL.String()
		host = ""
		client = &w.proxyClient
	}
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Could not create request for fetching")
		return nil, err
	}
	req.Host = host
	copyHeader(req.Header, r.Header)
	// do not forward hop-by-hop connection headers
	req.Header.Del("Connection")
	return client.Do(req)
}

// passThrough relays the request to the origin without any interception.
func (w *Worker) passThrough(rw http.ResponseWriter, r *http.Request) {
	res, err := w.fetch(r)
	if err != nil {
		log.Error().Err(err).Msg("Error connecting to origin")
		http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	copyHeader(rw.Header(), res.Header)
	rw.WriteHeader(res.StatusCode)
	if _, err := io.Copy(rw, res.Body); err != nil {
		log.Error().Err(err).Msg("Error writing to client")
	}
}

func send(rw http.ResponseWriter, snap snapshot.Snapshot, status SourceStatus) error {
	log.Debug().
		Str("status", status.String()).
		Int("code", snap.StatusCode).
		Msg("Sending response to client")
	rw.Header().Add("Cache-Status", status.String())
	return snap.Write(rw)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// strip headers added by an upstream proxy, some origins choke on them
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
