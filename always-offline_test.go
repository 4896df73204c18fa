package alwaysoffline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	snapshot "github.com/always-offline/always-offline/pkg/response-snapshot"
	"github.com/always-offline/always-offline/store"
)

// testWorker starts an origin server for the given handler and creates a
// worker in front of it. Closing the returned server simulates going
// offline.
func testWorker(t *testing.T, handler http.Handler, config Config) (*Worker, *httptest.Server) {
	t.Helper()
	origin := httptest.NewServer(handler)
	t.Cleanup(origin.Close)
	originURL, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatal(err)
	}
	config.OriginURL = *originURL
	if config.Provider == nil {
		config.Provider = store.NewMemProvider()
	}
	return CreateWorker(config), origin
}

func install(t *testing.T, w *Worker) {
	t.Helper()
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
}

func TestServesLiveResponseWhenOnline(t *testing.T) {
	handleCount := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		fmt.Fprintf(w, "Hello %d", handleCount)
	})
	w, _ := testWorker(t, mux, Config{Manifest: Manifest{Version: "v1"}})
	install(t, w)

	w.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	w.DrainWrites()

	if handleCount != 2 {
		t.Fatalf("Origin called %d times", handleCount)
	}
	if body := rr.Body.String(); body != "Hello 2" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Result().Header.Get("Cache-Status"); cs != "Always-Offline; source=network" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestServesStoredResponseWhenOffline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "installed hello")
	})
	w, origin := testWorker(t, mux, Config{
		Manifest: Manifest{Version: "v1", Critical: []string{"/"}},
	})
	install(t, w)
	origin.Close()

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Status code is %d", rr.Code)
	}
	if body := rr.Body.String(); body != "installed hello" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Result().Header.Get("Cache-Status"); cs != "Always-Offline; source=store; detail=always-offline-v1" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestStoresCopyOfLiveResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "live content")
	})
	w, origin := testWorker(t, mux, Config{Manifest: Manifest{Version: "v1"}})
	install(t, w)

	w.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/page", nil))
	w.DrainWrites()
	origin.Close()

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "/page", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Status code is %d", rr.Code)
	}
	if body := rr.Body.String(); body != "live content" {
		t.Fatalf("Body is %s", body)
	}
}

func TestRepeatedServingUpdatesStoredCopy(t *testing.T) {
	handleCount := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		fmt.Fprintf(w, "count %d", handleCount)
	})
	w, origin := testWorker(t, mux, Config{Manifest: Manifest{Version: "v1"}})
	install(t, w)

	for i := 0; i < 3; i++ {
		w.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
		w.DrainWrites()
	}
	origin.Close()

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if body := rr.Body.String(); body != "count 3" {
		t.Fatalf("Body is %s", body)
	}
}

func TestErrorResponsesAreRelayedButNotStored(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	w, _ := testWorker(t, mux, Config{Manifest: Manifest{Version: "v1"}})
	install(t, w)

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "/broken", nil))
	w.DrainWrites()

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Status code is %d", rr.Code)
	}
	keys, err := w.resources.Keys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("Store contains %v", keys)
	}
}

func TestOfflineNavigationGetsOfflinePage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/offline.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<h1>You are offline</h1>")
	})
	w, origin := testWorker(t, mux, Config{
		Manifest: Manifest{Version: "v1", OfflineURL: "/offline.html"},
	})
	install(t, w)
	origin.Close()

	req := httptest.NewRequest("GET", "/articles/42", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status code is %d", rr.Code)
	}
	if body := rr.Body.String(); body != "<h1>You are offline</h1>" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Result().Header.Get("Cache-Status"); !strings.HasPrefix(cs, "Always-Offline; source=offline-page") {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestOfflineUncachedResourceGetsSyntheticResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/offline.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<h1>You are offline</h1>")
	})
	w, origin := testWorker(t, mux, Config{
		Manifest: Manifest{Version: "v1", OfflineURL: "/offline.html"},
	})
	install(t, w)
	origin.Close()

	req := httptest.NewRequest("GET", "/session/42", nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status code is %d", rr.Code)
	}
	if ct := rr.Result().Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if body := rr.Body.String(); body != unavailableBody {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Result().Header.Get("Cache-Status"); cs != "Always-Offline; source=synthetic" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestSecFetchDestOverridesAcceptHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/offline.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<h1>You are offline</h1>")
	})
	w, origin := testWorker(t, mux, Config{
		Manifest: Manifest{Version: "v1", OfflineURL: "/offline.html"},
	})
	install(t, w)
	origin.Close()

	// an image request advertising text/html is still not a navigation
	req := httptest.NewRequest("GET", "/hero.png", nil)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Sec-Fetch-Dest", "image")
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status code is %d", rr.Code)
	}
}

func TestNonGetRequestsAreNotIntercepted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "posted")
	})
	w, origin := testWorker(t, mux, Config{Manifest: Manifest{Version: "v1"}})
	install(t, w)

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("POST", "/submit", strings.NewReader("a=1")))
	w.DrainWrites()

	if body := rr.Body.String(); body != "posted" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Result().Header.Get("Cache-Status"); cs != "" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	keys, err := w.resources.Keys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("Store contains %v", keys)
	}

	origin.Close()
	rr = httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("POST", "/submit", strings.NewReader("a=1")))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Status code is %d", rr.Code)
	}
}

func TestDenylistedHostIsNeverServedFromStore(t *testing.T) {
	w, _ := testWorker(t, http.NewServeMux(), Config{
		Manifest: Manifest{Version: "v1"},
		Denylist: []string{"tracker.test"},
	})
	install(t, w)

	// even a stored entry for the denylisted host must never be consulted
	err := w.resources.PutSnapshot(context.Background(), "GET:http://tracker.test/pixel.gif", snapshot.Snapshot{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"image/gif"}},
		Body:       []byte("GIF89a"),
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "http://tracker.test/pixel.gif", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Status code is %d", rr.Code)
	}
	if body := rr.Body.String(); strings.Contains(body, "GIF89a") {
		t.Fatalf("Body is %s", body)
	}
}

type failingHandle struct {
	store.Handle
}

func (failingHandle) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

type failingProvider struct {
	store.Provider
}

func (p failingProvider) Open(ctx context.Context, name string) (store.Handle, error) {
	handle, err := p.Provider.Open(ctx, name)
	return failingHandle{handle}, err
}

func TestWriteFailureNeverAffectsResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "fresh")
	})
	w, _ := testWorker(t, mux, Config{
		Manifest: Manifest{Version: "v1"},
		Provider: failingProvider{store.NewMemProvider()},
	})
	install(t, w)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		w.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		w.DrainWrites()
		if rr.Code != http.StatusOK {
			t.Fatalf("Status code is %d", rr.Code)
		}
		if body := rr.Body.String(); body != "fresh" {
			t.Fatalf("Body is %s", body)
		}
	}
}

func TestOriginHostIsNotForcedOnThirdPartyFetches(t *testing.T) {
	var thirdPartyHost string
	thirdParty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		thirdPartyHost = r.Host
		io.WriteString(w, "pixel")
	}))
	t.Cleanup(thirdParty.Close)

	w, _ := testWorker(t, http.NewServeMux(), Config{
		Manifest:   Manifest{Version: "v1"},
		OriginHost: "app.internal",
	})
	install(t, w)

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", thirdParty.URL+"/pixel.gif", nil))
	w.DrainWrites()

	if body := rr.Body.String(); body != "pixel" {
		t.Fatalf("Body is %s", body)
	}
	if thirdPartyHost == "app.internal" {
		t.Fatal("origin hostname forced onto a third-party fetch")
	}

	// the TLS name override stays on the origin client only
	if w.httpClient.Transport == nil {
		t.Fatal("origin client is missing the hostname transport")
	}
	if w.proxyClient.Transport != nil {
		t.Fatal("proxy client carries the origin hostname transport")
	}
}

func TestHostMatches(t *testing.T) {
	if !hostMatches("twitter.com", "twitter.com") {
		t.Fatal("exact host did not match")
	}
	if !hostMatches("api.twitter.com", "twitter.com") {
		t.Fatal("subdomain did not match")
	}
	if !hostMatches("www.Google-Analytics.com", "google-analytics.com") {
		t.Fatal("matching should ignore case")
	}
	if hostMatches("mytwitter.com", "twitter.com") {
		t.Fatal("partial label matched")
	}
	if hostMatches("twitter.com.evil.example", "twitter.com") {
		t.Fatal("prefix matched")
	}
}

func TestIsNavigation(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9")
	if !isNavigation(req) {
		t.Fatal("html GET is a navigation")
	}
	req = httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("Accept", "application/json")
	if isNavigation(req) {
		t.Fatal("json GET is not a navigation")
	}
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Sec-Fetch-Dest", "document")
	if !isNavigation(req) {
		t.Fatal("document destination is a navigation")
	}
}
