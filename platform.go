package processproxy

import (
	"fmt"
	"path/filepath"
)

// Platform identifies one of the native endpoint's supported
// operating-system/architecture combinations (§6). The names are
// win32/darwin/linux and x64/arm64/ia32, not Go's GOOS/GOARCH values.
type Platform struct {
	OS   string
	Arch string
}

// supportedPlatforms is the closed set of platforms a native endpoint
// binary may be built for.
var supportedPlatforms = []Platform{
	{OS: "darwin", Arch: "x64"},
	{OS: "darwin", Arch: "arm64"},
	{OS: "linux", Arch: "x64"},
	{OS: "linux", Arch: "arm64"},
	{OS: "win32", Arch: "x64"},
	{OS: "win32", Arch: "arm64"},
	{OS: "win32", Arch: "ia32"},
}

// SupportedPlatforms returns the closed set of platforms a caller may
// request a binary path for.
func SupportedPlatforms() []Platform {
	out := make([]Platform, len(supportedPlatforms))
	copy(out, supportedPlatforms)
	return out
}

func (p Platform) binaryName() string {
	if p.OS == "win32" {
		return "proxy.exe"
	}
	return "proxy"
}

func (p Platform) supported() bool {
	for _, sp := range supportedPlatforms {
		if sp == p {
			return true
		}
	}
	return false
}

// BinaryPath resolves the path to the native endpoint binary for one
// platform under baseDir, laid out as
// <baseDir>/<os>-<arch>/<proxy or proxy.exe> (§6). Binary selection and
// packaging beyond this lookup is an external collaborator's concern
// (§1's Non-goals).
func BinaryPath(goos, arch, baseDir string) (string, error) {
	p := Platform{OS: goos, Arch: arch}
	if !p.supported() {
		return "", fmt.Errorf("process-proxy: unsupported platform %s-%s", goos, arch)
	}
	return filepath.Join(baseDir, fmt.Sprintf("%s-%s", p.OS, p.Arch), p.binaryName()), nil
}
