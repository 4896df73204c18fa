package snapshot

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
)

// Snapshot is a stored copy of an HTTP response: status, headers and the
// complete body. Snapshots are what the store persists, one per request
// identity.
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Take copies the given response into a Snapshot.
// The response body is fully read and then replaced with an equivalent
// reader, so the response can still be sent to a client afterwards.
func Take(res *http.Response) (Snapshot, error) {
	s := Snapshot{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
	}
	if res.Body == nil {
		return s, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return s, err
	}
	s.Body = body
	res.Body = io.NopCloser(bytes.NewReader(body))
	return s, nil
}

// Successful reports whether the snapshot's status indicates success,
// i.e. whether the entry may be stored at all.
func (s Snapshot) Successful() bool {
	return s.StatusCode >= 200 && s.StatusCode < 300
}

// Bytes returns the HTTP/1.1 wire representation of the snapshot.
func (s Snapshot) Bytes() ([]byte, error) {
	res := http.Response{
		StatusCode:    s.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.Header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes parses a snapshot previously produced by Bytes.
func FromBytes(b []byte) (Snapshot, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return Snapshot{}, err
	}
	return Take(res)
}

// Write sends the snapshot to the given http.ResponseWriter.
func (s Snapshot) Write(w http.ResponseWriter) error {
	for name, values := range s.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(s.StatusCode)
	_, err := w.Write(s.Body)
	return err
}
