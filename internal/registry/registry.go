package registry

import (
	"archive/tar"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/pgzip"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/config"
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/hashutil"
	"github.com/harbourpkg/harbour/internal/manifest"
	srcpkg "github.com/harbourpkg/harbour/internal/source"
)

var fullShaRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Config is the registry index metadata (config.toml at the index root).
type Config struct {
	Registry struct {
		Name string `toml:"name"`
		API  string `toml:"api"`
	} `toml:"registry"`
}

// Source serves registry dependencies for one registry URL. The index is a
// cached git clone; package sources are fetched on demand into
// <cache>/registry-src/<registry>/<name>/<version>/<source-hash>.
type Source struct {
	registryURL string
	indexPath   string
	srcCache    string
	sourceID    core.SourceId
	net         config.NetSection

	indexFetched bool
	packages     map[string]*manifest.Package      // keyed by name\x00version
	provenances  map[string]core.RegistryProvenance
}

// New creates the registry source for one registry URL.
func New(registryURL, cacheDir string, sourceID core.SourceId, net config.NetSection) *Source {
	dirName := srcpkg.SanitizeURL(registryURL)
	return &Source{
		registryURL: registryURL,
		indexPath:   filepath.Join(cacheDir, "registry", dirName),
		srcCache:    filepath.Join(cacheDir, "registry-src", dirName),
		sourceID:    sourceID,
		net:         net,
		packages:    map[string]*manifest.Package{},
		provenances: map[string]core.RegistryProvenance{},
	}
}

func (s *Source) Name() string { return "registry" }

func (s *Source) Supports(dep core.Dependency) bool {
	return dep.SourceID().IsRegistry() && dep.SourceID().URL() == s.sourceID.URL()
}

func (s *Source) EnsureReady() error { return s.fetchIndex() }

func (s *Source) git(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return xerrors.Errorf("git %s: %v\n%s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Source) fetchIndex() error {
	if s.indexFetched {
		return nil
	}
	if _, err := os.Stat(s.indexPath); os.IsNotExist(err) {
		if s.net.Offline {
			return diag.New("registry index %s is not cached and [net].offline is set", s.registryURL)
		}
		logrus.Infof("cloning registry index from %s", s.registryURL)
		if err := os.MkdirAll(filepath.Dir(s.indexPath), 0755); err != nil {
			return err
		}
		if err := s.git("", "clone", "--depth=1", s.registryURL, s.indexPath); err != nil {
			return diag.New("failed to clone registry index from %s", s.registryURL).
				WithCause(err).
				WithSuggestion("check your network connection").
				WithSuggestion("run `harbour update` once the registry is reachable")
		}
	} else if !s.net.Offline {
		if err := s.git(s.indexPath, "pull", "--ff-only"); err != nil {
			logrus.Warnf("registry index update failed: %v (using cached index)", err)
		}
	}

	if _, err := os.Stat(filepath.Join(s.indexPath, "config.toml")); err != nil {
		return diag.New("registry index at %s is missing config.toml", s.registryURL)
	}

	s.indexFetched = true
	return nil
}

func (s *Source) shimFilePath(name, version string) (string, error) {
	rel, err := ShimPath(name, version)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.indexPath, filepath.FromSlash(rel)), nil
}

func (s *Source) loadShim(name, version string) (*Shim, error) {
	path, err := s.shimFilePath(name, version)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	shim, err := LoadShim(path)
	if err != nil {
		return nil, err
	}
	if shim.Package.Name != name || shim.Package.Version != version {
		return nil, diag.New("shim file mismatch: expected %s %s, found %s %s",
			name, version, shim.Package.Name, shim.Package.Version)
	}
	return shim, nil
}

func (s *Source) sourceCacheDir(shim *Shim) string {
	return filepath.Join(s.srcCache, shim.Package.Name, shim.Package.Version, shim.SourceHash())
}

// fetchSource materializes the shim's upstream and returns the source dir.
func (s *Source) fetchSource(shim *Shim) (string, error) {
	dir := s.sourceCacheDir(shim)
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return "", err
	}

	// fetch into a staging dir and rename once complete, so a failed
	// download or hash mismatch never leaves a half-extracted tree
	staging := dir + ".part"
	if err := os.RemoveAll(staging); err != nil {
		return "", err
	}

	var err error
	switch {
	case shim.Source.Git != nil:
		err = s.fetchGit(shim.Source.Git, staging)
	case shim.Source.Tarball != nil:
		err = s.fetchTarball(shim.Source.Tarball, staging)
	}
	if err != nil {
		os.RemoveAll(staging)
		return "", err
	}

	if len(shim.Patches) > 0 {
		if err := s.applyPatches(shim, staging); err != nil {
			os.RemoveAll(staging)
			return "", err
		}
	}

	if err := os.Rename(staging, dir); err != nil {
		os.RemoveAll(staging)
		return "", err
	}
	return dir, nil
}

func (s *Source) fetchGit(git *ShimGit, dest string) error {
	logrus.Infof("fetching %s at %s", git.URL, git.Rev[:8])
	if err := s.git("", "clone", git.URL, dest); err != nil {
		return diag.New("failed to clone %s", git.URL).WithCause(err).
			WithSuggestion("check your network connection")
	}
	if err := s.git(dest, "checkout", "--detach", git.Rev); err != nil {
		return diag.New("commit %s not found in %s", git.Rev, git.URL).WithCause(err).
			WithSuggestion("the shim may be stale; run `harbour update`")
	}
	return nil
}

func (s *Source) fetchTarball(tb *ShimTarball, dest string) error {
	logrus.Infof("downloading %s", tb.URL)

	resp, err := http.Get(tb.URL)
	if err != nil {
		return diag.New("failed to download %s", tb.URL).WithCause(err).
			WithSuggestion("check your network connection")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return diag.New("download of %s failed with HTTP %d", tb.URL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "harbour-tarball-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return xerrors.Errorf("download %s: %w", tb.URL, err)
	}

	got, err := hashutil.SHA256File(tmp.Name())
	if err != nil {
		return err
	}
	if got != tb.SHA256 {
		return diag.New("tarball checksum mismatch for %s", tb.URL).
			WithContext("declared %s", tb.SHA256).
			WithContext("computed %s", got).
			WithSuggestion("the upstream artifact changed; the shim must be re-pinned")
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return extractTarGz(tmp, dest, tb.StripPrefix)
}

func extractTarGz(r io.Reader, dest, stripPrefix string) error {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return xerrors.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("read tar: %w", err)
		}

		name := hdr.Name
		if stripPrefix != "" {
			rest, ok := strings.CutPrefix(name, stripPrefix)
			if !ok {
				continue
			}
			name = strings.TrimPrefix(rest, "/")
		}
		if name == "" {
			continue
		}
		// reject path traversal
		clean := filepath.Clean(filepath.FromSlash(name))
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return diag.New("tarball entry escapes the extraction root: %s", hdr.Name)
		}
		target := filepath.Join(dest, clean)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
}

func (s *Source) applyPatches(shim *Shim, sourceDir string) error {
	if !shim.IsGit() {
		return diag.New("patches require git source")
	}

	shimFile, err := s.shimFilePath(shim.Package.Name, shim.Package.Version)
	if err != nil {
		return err
	}
	shimDir := filepath.Dir(shimFile)

	for _, patch := range shim.Patches {
		patchPath := filepath.Join(shimDir, filepath.FromSlash(patch.File))
		if _, err := os.Stat(patchPath); err != nil {
			return diag.New("patch file not found: %s", patch.File).
				WithContext("expected at %s", patchPath)
		}
		if err := VerifyPatchHash(patchPath, patch.SHA256); err != nil {
			return err
		}
		// pre-check, then apply
		if err := s.git(sourceDir, "apply", "--check", patchPath); err != nil {
			return diag.New("patch %s does not apply cleanly to %s %s",
				patch.File, shim.Package.Name, shim.Package.Version).WithCause(err)
		}
		logrus.Infof("applying patch %s", patch.File)
		if err := s.git(sourceDir, "apply", patchPath); err != nil {
			return diag.New("failed to apply patch %s", patch.File).WithCause(err)
		}
	}
	return nil
}

// loadPackageFrom loads the fetched source, falling back to a synthetic
// manifest when the shim carries a surface override for a bootstrap
// package.
func (s *Source) loadPackageFrom(shim *Shim, sourceDir string) (*manifest.Package, error) {
	override := shim.EffectiveSurface()

	var m *manifest.Manifest
	if manifestPath := manifest.LocateIn(sourceDir); manifestPath != "" {
		if override != nil {
			logrus.Warnf("package %q has both a shim surface override and an upstream manifest; the shim override wins", shim.Package.Name)
		}
		var err error
		m, err = manifest.Load(manifestPath)
		if err != nil {
			return nil, err
		}
		if override != nil {
			applySurfaceOverride(m, override)
		}
	} else if override != nil {
		if len(shim.Patches) > 0 {
			logrus.Warnf("bootstrap package %q carries patches; verify they survive upstream updates", shim.Package.Name)
		}
		m = syntheticManifest(shim, override)
	} else {
		return nil, diag.New("package %q has no %s and no shim surface override",
			shim.Package.Name, manifest.Filename).
			WithSuggestion("add a surface_override to the shim for bootstrap packages")
	}

	precise := s.sourceID.WithPrecise(shim.SourceHash())
	return manifest.NewPackageWithSource(m, sourceDir, precise)
}

func applySurfaceOverride(m *manifest.Manifest, override *ShimSurface) {
	t := m.DefaultTarget()
	if t == nil {
		return
	}
	t.Surface.Compile.Public.IncludeDirs = override.Compile.Public.IncludeDirs
	t.Surface.Compile.Public.Defines = nil
	for _, d := range override.Compile.Public.Defines {
		t.Surface.Compile.Public.Defines = append(t.Surface.Compile.Public.Defines, manifest.ParseDefine(d))
	}
}

// syntheticManifest builds the header-only manifest for a bootstrap
// package that predates harbour.
func syntheticManifest(shim *Shim, override *ShimSurface) *manifest.Manifest {
	target := manifest.Target{
		Name: shim.Package.Name,
		Kind: manifest.KindHeaderOnly,
	}
	target.Surface.Compile.Public.IncludeDirs = override.Compile.Public.IncludeDirs
	for _, d := range override.Compile.Public.Defines {
		target.Surface.Compile.Public.Defines = append(target.Surface.Compile.Public.Defines, manifest.ParseDefine(d))
	}

	return &manifest.Manifest{
		Package: &manifest.PackageMeta{
			Name:    shim.Package.Name,
			Version: shim.Package.Version,
		},
		Dependencies: map[string]manifest.DependencySpec{},
		Targets:      []manifest.Target{target},
		Profiles:     map[string]manifest.Profile{},
	}
}

func pkgKey(name, version string) string { return name + "\x00" + version }

// Query serves registry lookups. Only specific versions hit the O(1) shim
// path; loose ranges stay unanswered here and query other registries.
func (s *Source) Query(dep core.Dependency) ([]core.Summary, error) {
	if !s.Supports(dep) {
		return nil, nil
	}
	if err := s.fetchIndex(); err != nil {
		return nil, err
	}

	version := extractSpecificVersion(dep.VersionReqString())
	if version == "" {
		return nil, nil
	}

	shim, err := s.loadShim(dep.Name(), version)
	if err != nil || shim == nil {
		return nil, err
	}

	sv, err := semver.NewVersion(shim.Package.Version)
	if err != nil {
		return nil, diag.New("shim for %q declares invalid version %q", dep.Name(), shim.Package.Version)
	}
	if !dep.MatchesVersion(sv) {
		return nil, nil
	}

	pkg, err := s.loadAndRemember(shim)
	if err != nil {
		return nil, err
	}
	summary, err := pkg.Summary()
	if err != nil {
		return nil, err
	}
	return []core.Summary{summary}, nil
}

func (s *Source) loadAndRemember(shim *Shim) (*manifest.Package, error) {
	key := pkgKey(shim.Package.Name, shim.Package.Version)
	if pkg, ok := s.packages[key]; ok {
		return pkg, nil
	}

	sourceDir, err := s.fetchSource(shim)
	if err != nil {
		return nil, err
	}
	pkg, err := s.loadPackageFrom(shim, sourceDir)
	if err != nil {
		return nil, err
	}

	shimFile, err := s.shimFilePath(shim.Package.Name, shim.Package.Version)
	if err != nil {
		return nil, err
	}
	shimHash, err := hashutil.SHA256File(shimFile)
	if err != nil {
		return nil, err
	}
	relShim, _ := ShimPath(shim.Package.Name, shim.Package.Version)
	prov := core.RegistryProvenance{ShimPath: relShim, ShimHash: shimHash}
	if shim.Source.Git != nil {
		prov.Resolved = core.ResolvedSource{Kind: core.ResolvedGit, URL: shim.Source.Git.URL, Rev: shim.Source.Git.Rev}
	} else {
		prov.Resolved = core.ResolvedSource{Kind: core.ResolvedTarball, URL: shim.Source.Tarball.URL, SHA256: shim.Source.Tarball.SHA256}
	}

	s.packages[key] = pkg
	s.provenances[key] = prov
	return pkg, nil
}

// Provenance returns the recorded provenance for a loaded package.
func (s *Source) Provenance(id core.PackageId) (core.RegistryProvenance, bool) {
	prov, ok := s.provenances[pkgKey(id.Name(), id.Version().String())]
	return prov, ok
}

func (s *Source) LoadPackage(id core.PackageId) (*manifest.Package, error) {
	key := pkgKey(id.Name(), id.Version().String())
	if pkg, ok := s.packages[key]; ok {
		return pkg, nil
	}
	if err := s.fetchIndex(); err != nil {
		return nil, err
	}

	shim, err := s.loadShim(id.Name(), id.Version().String())
	if err != nil {
		return nil, err
	}
	if shim == nil {
		relShim, _ := ShimPath(id.Name(), id.Version().String())
		return nil, diag.New("package %q version %q not found in registry", id.Name(), id.Version()).
			WithContext("shim not found at %s", relShim).
			WithSuggestion("verify the package exists in the registry index")
	}
	return s.loadAndRemember(shim)
}

func (s *Source) PackagePath(id core.PackageId) (string, error) {
	pkg, err := s.LoadPackage(id)
	if err != nil {
		return "", err
	}
	return pkg.Root, nil
}

func (s *Source) IsCached(id core.PackageId) bool {
	if _, ok := s.packages[pkgKey(id.Name(), id.Version().String())]; ok {
		return true
	}
	shim, err := s.loadShim(id.Name(), id.Version().String())
	if err != nil || shim == nil {
		return false
	}
	_, err = os.Stat(s.sourceCacheDir(shim))
	return err == nil
}

// extractSpecificVersion pulls the exact version out of a requirement like
// "=1.2.3" or "1.2.3". Ranges ("^", "~", comparators, wildcards) yield "".
func extractSpecificVersion(req string) string {
	req = strings.TrimSpace(req)
	if strings.ContainsAny(req, "^~><*,| ") {
		return ""
	}
	req = strings.TrimPrefix(req, "=")
	if _, err := semver.StrictNewVersion(req); err != nil {
		return ""
	}
	return req
}
