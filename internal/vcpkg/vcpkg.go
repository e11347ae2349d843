// Package vcpkg bridges an existing vcpkg installation into the source
// layer. A port is installed on demand; its metadata and libraries are
// discovered from the installed tree and exposed through a synthetic
// header-only manifest whose public surface carries the include dir and
// discovered libraries.
package vcpkg

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/config"
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// DefaultTriplet guesses the vcpkg triplet for the host.
func DefaultTriplet() string {
	arch := "x64"
	switch runtime.GOARCH {
	case "arm64":
		arch = "arm64"
	case "386":
		arch = "x86"
	}
	switch runtime.GOOS {
	case "windows":
		return arch + "-windows"
	case "darwin":
		return arch + "-osx"
	default:
		return arch + "-linux"
	}
}

// FindRoot locates the vcpkg installation: config first, then VCPKG_ROOT.
func FindRoot(cfg config.VcpkgSection) (string, error) {
	root := cfg.Root
	if root == "" {
		root = os.Getenv("VCPKG_ROOT")
	}
	if root == "" {
		return "", diag.New("vcpkg support is enabled but no installation was found").
			WithSuggestion("set VCPKG_ROOT or [vcpkg].root in .harbour/config.toml")
	}
	if _, err := os.Stat(root); err != nil {
		return "", diag.New("vcpkg root %s does not exist", root)
	}
	return root, nil
}

// portMeta is the slice of installed/<triplet>/share/<port>/vcpkg.json we
// care about.
type portMeta struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	VersionSem  string `json:"version-semver"`
	PortVersion int    `json:"port-version"`
}

// Source serves vcpkg dependencies against one installation.
type Source struct {
	root     string
	triplet  string
	baseline string

	packages    map[core.SourceId]*manifest.Package
	provenances map[core.SourceId]core.VcpkgProvenance
}

// New creates the vcpkg source.
func New(root, triplet, baseline string) *Source {
	if triplet == "" {
		triplet = os.Getenv("VCPKG_TARGET_TRIPLET")
	}
	if triplet == "" {
		triplet = os.Getenv("VCPKG_DEFAULT_TRIPLET")
	}
	if triplet == "" {
		triplet = DefaultTriplet()
	}
	return &Source{
		root:        root,
		triplet:     triplet,
		baseline:    baseline,
		packages:    map[core.SourceId]*manifest.Package{},
		provenances: map[core.SourceId]core.VcpkgProvenance{},
	}
}

func (s *Source) Name() string { return "vcpkg" }

func (s *Source) Supports(dep core.Dependency) bool {
	return dep.SourceID().IsVcpkg()
}

func (s *Source) EnsureReady() error {
	if _, err := exec.LookPath(s.vcpkgExe()); err != nil {
		if _, statErr := os.Stat(s.vcpkgExe()); statErr != nil {
			return diag.New("vcpkg executable not found under %s", s.root).
				WithSuggestion("bootstrap vcpkg (./bootstrap-vcpkg.sh) or fix [vcpkg].root")
		}
	}
	return nil
}

func (s *Source) vcpkgExe() string {
	exe := "vcpkg"
	if runtime.GOOS == "windows" {
		exe = "vcpkg.exe"
	}
	return filepath.Join(s.root, exe)
}

func (s *Source) installedDir() string {
	return filepath.Join(s.root, "installed", s.triplet)
}

// tripletFor picks the dependency's declared triplet, else ours.
func (s *Source) tripletFor(source core.SourceId) string {
	_, triplet, _ := source.VcpkgPort()
	if triplet != "" {
		return triplet
	}
	return s.triplet
}

// install runs `vcpkg install <port>[features]:<triplet>`.
func (s *Source) install(source core.SourceId) error {
	port, _, features := source.VcpkgPort()
	spec := port
	if len(features) > 0 {
		spec += "[" + strings.Join(features, ",") + "]"
	}
	spec += ":" + s.tripletFor(source)

	logrus.Infof("vcpkg install %s", spec)
	cmd := exec.Command(s.vcpkgExe(), "install", spec)
	cmd.Dir = s.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return diag.New("vcpkg install failed for %s", spec).
			WithContext("%s", strings.TrimSpace(string(out))).
			WithSuggestion("run `vcpkg install %s` manually to inspect the failure", spec)
	}
	return nil
}

// metadata reads the installed port's version info, preferring the
// vcpkg.json manifest with a `vcpkg list` fallback.
func (s *Source) metadata(port string) (portMeta, error) {
	sharePath := filepath.Join(s.installedDir(), "share", port, "vcpkg.json")
	if content, err := os.ReadFile(sharePath); err == nil {
		var meta portMeta
		if err := json.Unmarshal(content, &meta); err == nil {
			if meta.Name == "" {
				meta.Name = port
			}
			return meta, nil
		}
	}

	// fallback: parse `vcpkg list <port>` lines of the form
	// "zlib:x64-linux  1.3.1  A compression library"
	cmd := exec.Command(s.vcpkgExe(), "list", port)
	cmd.Dir = s.root
	out, err := cmd.Output()
	if err != nil {
		return portMeta{}, xerrors.Errorf("vcpkg list %s: %w", port, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name, triplet, _ := strings.Cut(fields[0], ":")
		if name == port && triplet == s.triplet {
			version := fields[1]
			if i := strings.IndexByte(version, '#'); i >= 0 {
				version = version[:i]
			}
			return portMeta{Name: port, Version: version}, nil
		}
	}
	return portMeta{}, diag.New("port %q is not installed for triplet %s", port, s.triplet)
}

// semVersion coerces vcpkg's version strings into semver; date-style and
// short versions are padded.
func semVersion(meta portMeta) (*semver.Version, error) {
	for _, candidate := range []string{meta.VersionSem, meta.Version} {
		if candidate == "" {
			continue
		}
		candidate = strings.ReplaceAll(candidate, "-", ".")
		if v, err := semver.NewVersion(candidate); err == nil {
			return v, nil
		}
	}
	return nil, diag.New("cannot interpret vcpkg version %q as semver", meta.Version)
}

// discoverLibs finds the port's link libraries, preferring the usage file
// with a lib-directory scan fallback.
func (s *Source) discoverLibs(port string) []string {
	if libs := parseUsageFile(filepath.Join(s.installedDir(), "share", port, "usage")); len(libs) > 0 {
		return libs
	}
	return scanLibDir(filepath.Join(s.installedDir(), "lib"), port)
}

// parseUsageFile pulls -lX names from vcpkg usage hints like
// "target_link_libraries(main PRIVATE ZLIB::ZLIB)" fall through; plain
// "-lz" style lines are collected.
func parseUsageFile(path string) []string {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var libs []string
	for _, field := range strings.Fields(string(content)) {
		if name, ok := strings.CutPrefix(field, "-l"); ok && name != "" {
			libs = append(libs, name)
		}
	}
	return lo.Uniq(libs)
}

// scanLibDir collects library basenames matching the port name.
func scanLibDir(dir, port string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var libs []string
	for _, e := range entries {
		name := e.Name()
		base := strings.TrimPrefix(name, "lib")
		for _, ext := range []string{".a", ".so", ".dylib", ".lib"} {
			if trimmed, ok := strings.CutSuffix(base, ext); ok {
				if strings.Contains(trimmed, port) || strings.Contains(port, trimmed) {
					libs = append(libs, trimmed)
				}
				break
			}
		}
	}
	return lo.Uniq(libs)
}

// materialize installs the port if needed and builds the synthetic
// package exposing it.
func (s *Source) materialize(source core.SourceId) (*manifest.Package, error) {
	if pkg, ok := s.packages[source]; ok {
		return pkg, nil
	}

	port, _, features := source.VcpkgPort()

	meta, err := s.metadata(port)
	if err != nil {
		if installErr := s.install(source); installErr != nil {
			return nil, installErr
		}
		meta, err = s.metadata(port)
		if err != nil {
			return nil, err
		}
	}

	version, err := semVersion(meta)
	if err != nil {
		return nil, err
	}

	libs := s.discoverLibs(port)
	m := s.syntheticManifest(port, version.String(), libs)

	// the package is rooted at the port's share directory; the
	// synthesized manifest lives only in memory and is not written there
	root := filepath.Join(s.installedDir(), "share", port)
	pkg, err := manifest.NewPackageWithSource(m, root, source)
	if err != nil {
		return nil, err
	}

	s.packages[source] = pkg
	s.provenances[source] = core.VcpkgProvenance{
		Port:        port,
		Version:     meta.Version,
		PortVersion: meta.PortVersion,
		Triplet:     s.tripletFor(source),
		Features:    features,
		Baseline:    s.baseline,
	}
	return pkg, nil
}

// syntheticManifest exposes the installed port as a header-only target
// whose public surface carries the include dir and the discovered libs.
func (s *Source) syntheticManifest(port, version string, libs []string) *manifest.Manifest {
	target := manifest.Target{
		Name: port,
		Kind: manifest.KindHeaderOnly,
	}
	target.Surface.Compile.Public.IncludeDirs = []string{filepath.Join(s.installedDir(), "include")}
	for _, lib := range libs {
		target.Surface.Link.Public.Libs = append(target.Surface.Link.Public.Libs, manifest.SystemLib(lib))
	}
	target.Surface.Link.Public.Ldflags = []string{"-L" + filepath.Join(s.installedDir(), "lib")}

	return &manifest.Manifest{
		Package: &manifest.PackageMeta{
			Name:        port,
			Version:     version,
			Description: "synthesized from vcpkg port " + port,
		},
		Dependencies: map[string]manifest.DependencySpec{},
		Targets:      []manifest.Target{target},
		Profiles:     map[string]manifest.Profile{},
	}
}

func (s *Source) Query(dep core.Dependency) ([]core.Summary, error) {
	if !s.Supports(dep) {
		return nil, nil
	}
	pkg, err := s.materialize(dep.SourceID())
	if err != nil {
		return nil, err
	}
	if !dep.MatchesVersion(pkg.ID.Version()) {
		return nil, nil
	}
	summary, err := pkg.Summary()
	if err != nil {
		return nil, err
	}
	return []core.Summary{summary}, nil
}

func (s *Source) LoadPackage(id core.PackageId) (*manifest.Package, error) {
	return s.materialize(id.SourceID())
}

func (s *Source) PackagePath(id core.PackageId) (string, error) {
	pkg, err := s.materialize(id.SourceID())
	if err != nil {
		return "", err
	}
	return pkg.Root, nil
}

func (s *Source) IsCached(id core.PackageId) bool {
	port, _, _ := id.SourceID().VcpkgPort()
	_, err := os.Stat(filepath.Join(s.installedDir(), "share", port))
	return err == nil
}

// Provenance returns the recorded provenance for a materialized port.
func (s *Source) Provenance(id core.PackageId) (core.VcpkgProvenance, bool) {
	prov, ok := s.provenances[id.SourceID()]
	return prov, ok
}
