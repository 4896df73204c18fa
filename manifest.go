package alwaysoffline

// Manifest declares the resources a worker version ships with.
// It is static configuration: the build pipeline owns how the version
// identifier and the resource lists are produced.
type Manifest struct {
	// Version identifies this deployment. It becomes the suffix of the
	// store name, so two manifests with the same version share a store.
	Version string
	// Critical resources must all be stored for install to succeed.
	Critical []string
	// Optional resources are stored best-effort. A failing optional
	// resource never fails the install.
	Optional []string
	// OfflineURL is the page served for document navigations when the
	// origin is unreachable and the requested page is not stored.
	// It is treated as a critical resource during install.
	OfflineURL string
}

// criticalSet returns the critical resources with the offline page included.
func (m Manifest) criticalSet() []string {
	if m.OfflineURL == "" {
		return m.Critical
	}
	for _, url := range m.Critical {
		if url == m.OfflineURL {
			return m.Critical
		}
	}
	return append(append([]string{}, m.Critical...), m.OfflineURL)
}
