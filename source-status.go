package alwaysoffline

import "fmt"

type SourceStatusSource string

const (
	// The origin answered and its response was relayed unchanged.
	SourceStatusNetwork SourceStatusSource = "network"

	// The origin was unreachable and the response came from the
	// current version store.
	SourceStatusStore SourceStatusSource = "store"

	// The origin was unreachable, nothing was stored for the request,
	// and the stored offline page was served instead.
	SourceStatusOfflinePage SourceStatusSource = "offline-page"

	// Nothing stored could satisfy the request, so the gateway
	// synthesized the response itself.
	SourceStatusSynthetic SourceStatusSource = "synthetic"
)

// SourceStatus tells the client where a response came from.
// It is sent in a Cache-Status response header (RFC 9211 syntax with an
// extension parameter for the source).
type SourceStatus struct {
	source SourceStatusSource
	detail string
}

func (ss *SourceStatus) Serve(source SourceStatusSource) {
	ss.source = source
}

func (ss *SourceStatus) Detail(detail string) {
	ss.detail = detail
}

func (ss *SourceStatus) String() string {
	status := fmt.Sprintf("Always-Offline; source=%s", ss.source)
	if ss.detail != "" {
		status = status + "; detail=" + ss.detail
	}
	return status
}
