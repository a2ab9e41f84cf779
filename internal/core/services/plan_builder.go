package services

import (
	"fmt"
	"strings"

	"github.com/replforge/backend/internal/domain"
)

// MongoVersion is a validated release series and the exact release it pins.
type MongoVersion struct {
	Series  string
	Release string
}

// Legacy series ship the old mongo shell and predate the -database package.
func (v MongoVersion) Legacy() bool {
	return v.Series == "4.4" || v.Series == "4.2"
}

var pinnedReleases = map[string]string{
	"8.0": "8.0.4",
	"6.0": "6.0.4",
	"5.0": "5.0.4",
	"4.4": "4.4.4",
	"4.2": "4.2.4",
}

func ParseVersion(series string) (MongoVersion, error) {
	release, ok := pinnedReleases[series]
	if !ok {
		return MongoVersion{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, series)
	}
	return MongoVersion{Series: series, Release: release}, nil
}

// Platform produces the install plan for one OS family.
type Platform interface {
	Family() string
	// DataPath is where the distribution's packages expect mongod's storage.
	DataPath() string
	InstallationPlan(v MongoVersion) []domain.Command
}

// PlatformFor resolves an OS label such as "Ubuntu 22.04" or "RHEL 8".
func PlatformFor(osFamily string) (Platform, error) {
	release := lastField(osFamily)
	switch {
	case strings.Contains(osFamily, "Ubuntu"):
		codename, ok := ubuntuCodenames[release]
		if !ok {
			codename = "jammy"
		}
		return aptPlatform{codename: codename}, nil
	case strings.Contains(osFamily, "Amazon Linux"):
		if !isNumeric(release) {
			release = "2"
		}
		return yumPlatform{distro: "amazon", release: release}, nil
	case strings.Contains(osFamily, "RHEL"):
		if !isNumeric(release) {
			release = "8"
		}
		return yumPlatform{distro: "redhat", release: release}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, osFamily)
	}
}

// BuildInstallationPlan returns the ordered directives shared by both nodes.
func BuildInstallationPlan(osFamily, series string) ([]domain.Command, error) {
	platform, err := PlatformFor(osFamily)
	if err != nil {
		return nil, err
	}
	version, err := ParseVersion(series)
	if err != nil {
		return nil, err
	}
	return platform.InstallationPlan(version), nil
}

var ubuntuCodenames = map[string]string{
	"24.04": "noble",
	"22.04": "jammy",
	"20.04": "focal",
	"18.04": "bionic",
}

func lastField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func signingKeyURL(v MongoVersion) string {
	return fmt.Sprintf("https://www.mongodb.org/static/pgp/server-%s.asc", v.Series)
}

// ==================== APT ====================

const aptLockWait = "while sudo fuser /var/lib/dpkg/lock >/dev/null 2>&1 || sudo fuser /var/lib/apt/lists/lock >/dev/null 2>&1 || sudo fuser /var/lib/dpkg/lock-frontend >/dev/null 2>&1; do echo 'Waiting for apt lock...'; sleep 3; done"

type aptPlatform struct {
	codename string
}

func (p aptPlatform) Family() string { return "apt" }

func (p aptPlatform) DataPath() string { return "/var/lib/mongodb" }

func aptGet(args ...string) string {
	return sudo(append([]string{"DEBIAN_FRONTEND=noninteractive", "apt-get"}, args...)...)
}

func (p aptPlatform) InstallationPlan(v MongoVersion) []domain.Command {
	keyring := fmt.Sprintf("/usr/share/keyrings/mongodb-server-%s.gpg", v.Series)
	sourceList := fmt.Sprintf("/etc/apt/sources.list.d/mongodb-org-%s.list", v.Series)
	source := fmt.Sprintf(
		"deb [ arch=amd64,arm64 signed-by=%s ] https://repo.mongodb.org/apt/ubuntu %s/mongodb-org/%s multiverse",
		keyring, p.codename, v.Series,
	)

	return []domain.Command{
		{Name: "remove-stale-repository", Directive: sudo("rm", "-f", sourceList, keyring)},
		{Name: "wait-package-lock", Directive: aptLockWait},
		{Name: "refresh-base-index", Directive: aptGet("update", "-o", "Acquire::Retries=3")},
		{Name: "install-prerequisites", Directive: aptGet("install", "-y", "gnupg", "curl")},
		{Name: "import-signing-key", Directive: pipeline(
			shellCommand("curl", "-fsSL", signingKeyURL(v)),
			sudo("gpg", "--batch", "--yes", "-o", keyring, "--dearmor"),
		)},
		{Name: "register-repository", Directive: writeWithTee(shellCommand("echo", source), sourceList)},
		{Name: "refresh-index", Directive: aptGet("update", "-o", "Acquire::Retries=3")},
		{Name: "install-packages", Directive: aptGet(append([]string{"install", "-y"}, p.packages(v)...)...)},
	}
}

func (p aptPlatform) packages(v MongoVersion) []string {
	pin := func(name string) string { return name + "=" + v.Release }
	if v.Legacy() {
		return []string{
			pin("mongodb-org"), pin("mongodb-org-server"), pin("mongodb-org-shell"),
			pin("mongodb-org-mongos"), pin("mongodb-org-tools"),
		}
	}
	return []string{
		pin("mongodb-org"), pin("mongodb-org-database"), pin("mongodb-org-server"),
		"mongodb-mongosh", pin("mongodb-org-mongos"), pin("mongodb-org-tools"),
	}
}

// ==================== YUM ====================

type yumPlatform struct {
	distro  string
	release string
}

func (p yumPlatform) Family() string { return "yum" }

func (p yumPlatform) DataPath() string { return "/var/lib/mongo" }

func (p yumPlatform) InstallationPlan(v MongoVersion) []domain.Command {
	repoName := "mongodb-org-" + v.Series
	repoFile := fmt.Sprintf("/etc/yum.repos.d/%s.repo", repoName)
	baseURL := fmt.Sprintf("https://repo.mongodb.org/yum/%s/%s/mongodb-org/%s/x86_64/", p.distro, p.release, v.Series)

	repoDefinition := shellCommand("printf", `%s\n`,
		"["+repoName+"]",
		"name=MongoDB Repository",
		"baseurl="+baseURL,
		"gpgcheck=1",
		"enabled=1",
		"gpgkey="+signingKeyURL(v),
	)

	return []domain.Command{
		{Name: "remove-stale-repository", Directive: sudo("rm", "-f", repoFile)},
		{Name: "register-repository", Directive: writeWithTee(repoDefinition, repoFile)},
		{Name: "clean-cache", Directive: sudo("yum", "clean", "all")},
		{Name: "refresh-index", Directive: sudo("yum", "makecache", "-y")},
		{Name: "install-packages", Directive: sudo(append([]string{"yum", "install", "-y"}, p.packages(v)...)...)},
	}
}

func (p yumPlatform) packages(v MongoVersion) []string {
	pin := func(name string) string { return name + "-" + v.Release }
	if v.Legacy() {
		return []string{
			pin("mongodb-org"), pin("mongodb-org-server"), pin("mongodb-org-shell"),
			pin("mongodb-org-mongos"), pin("mongodb-org-tools"),
		}
	}
	return []string{
		pin("mongodb-org"), pin("mongodb-org-database"), pin("mongodb-org-server"),
		"mongodb-mongosh", pin("mongodb-org-mongos"), pin("mongodb-org-tools"),
	}
}
