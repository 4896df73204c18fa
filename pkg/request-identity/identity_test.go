package identity

import (
	"net/http"
	"net/url"
	"testing"
)

func testKeyer() Keyer {
	origin, _ := url.Parse("https://app.example.com")
	return NewKeyer(*origin)
}

func TestRequestFromKey(t *testing.T) {
	keyer := testKeyer()
	r, _ := http.NewRequest("GET", "/session/42?tab=notes", nil)
	key := keyer.ForRequest(r)
	req, err := keyer.RequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "https://app.example.com/session/42?tab=notes" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
}

func TestRelativeAndAbsoluteKeysMatch(t *testing.T) {
	keyer := testKeyer()
	relative, _ := http.NewRequest("GET", "/index.html", nil)
	absolute, _ := http.NewRequest("GET", "https://APP.example.com/index.html", nil)
	if keyer.ForRequest(relative) != keyer.ForRequest(absolute) {
		t.Fatalf("Keys differ: %s vs %s", keyer.ForRequest(relative), keyer.ForRequest(absolute))
	}
}

func TestFragmentIgnored(t *testing.T) {
	keyer := testKeyer()
	plain, err := keyer.ForURL("/docs")
	if err != nil {
		t.Fatal(err)
	}
	fragment, err := keyer.ForURL("/docs#section-2")
	if err != nil {
		t.Fatal(err)
	}
	if plain != fragment {
		t.Fatalf("Keys differ: %s vs %s", plain, fragment)
	}
}

func TestCrossOriginKeyKeepsHost(t *testing.T) {
	keyer := testKeyer()
	key, err := keyer.ForURL("https://cdn.example.net/lib.js")
	if err != nil {
		t.Fatal(err)
	}
	if key != "GET:https://cdn.example.net/lib.js" {
		t.Fatalf("Key is %s", key)
	}
}

func TestNonGetKeyNotReversible(t *testing.T) {
	keyer := testKeyer()
	r, _ := http.NewRequest("POST", "/submit", nil)
	if _, err := keyer.RequestFromKey(keyer.ForRequest(r)); err != ErrMethodNotSupported {
		t.Fatalf("Error is %v", err)
	}
}
