package domain

// Catalog lists the choices offered to callers.
type Catalog struct {
	OSTypes       []string `json:"os_types"`
	MongoVersions []string `json:"mongo_versions"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		OSTypes: []string{
			"Ubuntu 22.04",
			"Ubuntu 20.04",
			"Amazon Linux 2",
			"RHEL 8",
			"RHEL 7",
		},
		MongoVersions: []string{"8.0", "6.0", "5.0", "4.4", "4.2"},
	}
}

func (c Catalog) SupportsOS(label string) bool {
	return contains(c.OSTypes, label)
}

func (c Catalog) SupportsVersion(version string) bool {
	return contains(c.MongoVersions, version)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
