package source

import (
	"context"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/config"
	"github.com/harbourpkg/harbour/internal/core"
	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
)

var fullShaRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// GitSource serves git dependencies. Each repository gets a bare clone
// under <cache>/git/<sanitized-url>/db and per-commit checkouts under
// <cache>/git/<sanitized-url>/checkouts/<short-sha>.
type GitSource struct {
	cacheDir string
	net      config.NetSection

	// fetched remembers which repos were updated this invocation so a
	// resolve touching a repo twice fetches once.
	fetched map[string]bool

	// checkouts maps the precise SourceId to its checkout directory.
	checkouts map[core.SourceId]string

	packages map[core.SourceId]*manifest.Package
}

// NewGitSource creates the git source over the shared cache directory.
func NewGitSource(cacheDir string, net config.NetSection) *GitSource {
	return &GitSource{
		cacheDir:  cacheDir,
		net:       net,
		fetched:   map[string]bool{},
		checkouts: map[core.SourceId]string{},
		packages:  map[core.SourceId]*manifest.Package{},
	}
}

func (s *GitSource) Name() string { return "git" }

func (s *GitSource) Supports(dep core.Dependency) bool {
	return dep.SourceID().IsGit()
}

func (s *GitSource) EnsureReady() error { return nil }

func (s *GitSource) repoDir(rawurl string) string {
	return filepath.Join(s.cacheDir, "git", SanitizeURL(rawurl))
}

func (s *GitSource) git(dir string, args ...string) (string, error) {
	ctx := context.Background()
	if s.net.GitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.net.GitTimeout)*time.Second)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", xerrors.Errorf("git %s: %v\n%s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// ensureRepo clones or updates the bare repository for url and returns its
// database directory.
func (s *GitSource) ensureRepo(rawurl string) (string, error) {
	db := filepath.Join(s.repoDir(rawurl), "db")

	if _, err := os.Stat(db); os.IsNotExist(err) {
		if s.net.Offline {
			return "", diag.New("git repository %s is not cached and [net].offline is set", rawurl).
				WithSuggestion("disable offline mode or vendor the dependency")
		}
		logrus.Infof("cloning %s", rawurl)
		if err := os.MkdirAll(filepath.Dir(db), 0755); err != nil {
			return "", err
		}
		if _, err := s.git("", "clone", "--bare", rawurl, db); err != nil {
			return "", diag.New("failed to clone %s", rawurl).
				WithCause(err).
				WithSuggestion("check your network connection").
				WithSuggestion("run `harbour update` once the remote is reachable")
		}
		s.fetched[rawurl] = true
		return db, nil
	}

	if !s.fetched[rawurl] && !s.net.Offline {
		logrus.Debugf("fetching %s", rawurl)
		if _, err := s.git(db, "fetch", "--tags", "--force", "origin",
			"+refs/heads/*:refs/heads/*"); err != nil {
			// stale cache still works for pinned revisions
			logrus.Warnf("git fetch failed for %s: %v (using cached state)", rawurl, err)
		}
		s.fetched[rawurl] = true
	}
	return db, nil
}

// resolveRef turns a reference into a full 40-char commit sha.
func (s *GitSource) resolveRef(db string, ref core.GitReference) (string, error) {
	var spec string
	switch ref.Kind {
	case core.GitRefBranch:
		spec = "refs/heads/" + ref.Value
	case core.GitRefTag:
		spec = "refs/tags/" + ref.Value
	case core.GitRefRev:
		if fullShaRe.MatchString(ref.Value) {
			return ref.Value, nil
		}
		spec = ref.Value
	default:
		spec = "HEAD"
	}
	out, err := s.git(db, "rev-parse", spec+"^{commit}")
	if err != nil {
		return "", diag.New("cannot resolve git reference %q", spec).WithCause(err).
			WithSuggestion("verify the branch/tag exists upstream")
	}
	return out, nil
}

// checkout materializes the commit into a working tree and initializes
// submodules recursively.
func (s *GitSource) checkout(rawurl, db, sha string) (string, error) {
	co := filepath.Join(s.repoDir(rawurl), "checkouts", sha[:12])
	if _, err := os.Stat(filepath.Join(co, ".git")); err == nil {
		return co, nil
	}

	if err := os.MkdirAll(filepath.Dir(co), 0755); err != nil {
		return "", err
	}
	if _, err := s.git("", "clone", "--shared", db, co); err != nil {
		return "", err
	}
	if _, err := s.git(co, "checkout", "--detach", sha); err != nil {
		return "", err
	}
	if _, err := s.git(co, "submodule", "update", "--init", "--recursive"); err != nil {
		logrus.Warnf("submodule init failed in %s: will build without submodules", co)
	}
	return co, nil
}

// materialize resolves the SourceId to a precise commit, checks it out,
// and returns (precise SourceId, checkout dir).
func (s *GitSource) materialize(source core.SourceId) (core.SourceId, string, error) {
	if dir, ok := s.checkouts[source]; ok {
		return source, dir, nil
	}

	db, err := s.ensureRepo(source.URL())
	if err != nil {
		return core.SourceId{}, "", err
	}

	sha := source.Precise()
	if sha == "" {
		sha, err = s.resolveRef(db, source.GitRef())
		if err != nil {
			return core.SourceId{}, "", err
		}
	}

	co, err := s.checkout(source.URL(), db, sha)
	if err != nil {
		return core.SourceId{}, "", err
	}

	precise := source.WithPrecise(sha)
	s.checkouts[source] = co
	s.checkouts[precise] = co
	return precise, co, nil
}

func (s *GitSource) loadAt(source core.SourceId, dir string) (*manifest.Package, error) {
	if pkg, ok := s.packages[source]; ok {
		return pkg, nil
	}
	manifestPath := manifest.LocateIn(dir)
	if manifestPath == "" {
		return nil, diag.New("git dependency at %s has no %s", source.URL(), manifest.Filename).
			WithSuggestion("use a registry shim with a surface override for packages that predate harbour")
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	pkg, err := manifest.NewPackageWithSource(m, dir, source)
	if err != nil {
		return nil, err
	}
	s.packages[source] = pkg
	return pkg, nil
}

// Query clones/updates the repo, checks out the requested reference, and
// returns the single summary found there. The summary's PackageId carries
// the precise commit so the pin freezes into the lockfile.
func (s *GitSource) Query(dep core.Dependency) ([]core.Summary, error) {
	precise, dir, err := s.materialize(dep.SourceID())
	if err != nil {
		return nil, err
	}
	pkg, err := s.loadAt(precise, dir)
	if err != nil {
		return nil, err
	}
	if pkg.Name() != dep.Name() {
		return nil, diag.New("git dependency %q resolves to package %q at %s",
			dep.Name(), pkg.Name(), dep.SourceID().URL())
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

func (s *GitSource) LoadPackage(id core.PackageId) (*manifest.Package, error) {
	_, dir, err := s.materialize(id.SourceID())
	if err != nil {
		return nil, err
	}
	return s.loadAt(id.SourceID(), dir)
}

func (s *GitSource) PackagePath(id core.PackageId) (string, error) {
	_, dir, err := s.materialize(id.SourceID())
	return dir, err
}

func (s *GitSource) IsCached(id core.PackageId) bool {
	sha := id.SourceID().Precise()
	if sha == "" {
		return false
	}
	co := filepath.Join(s.repoDir(id.SourceID().URL()), "checkouts", sha[:12])
	_, err := os.Stat(co)
	return err == nil
}

// SanitizeURL flattens a URL into a directory name: host and path joined
// by dashes, .git suffix dropped.
func SanitizeURL(rawurl string) string {
	var name string
	if u, err := url.Parse(rawurl); err == nil && u.Host != "" {
		name = u.Host
		if p := strings.Trim(u.Path, "/"); p != "" {
			name += "-" + strings.ReplaceAll(p, "/", "-")
		}
	} else {
		name = strings.NewReplacer("/", "-", ":", "-").Replace(rawurl)
	}
	return strings.TrimSuffix(name, ".git")
}
