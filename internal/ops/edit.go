package ops

import (
	"bytes"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/diag"
	"github.com/harbourpkg/harbour/internal/manifest"
)

// DepEdit describes the dependency being added.
type DepEdit struct {
	Name string

	// Version requirement; used alone it selects the default registry.
	Version string

	Path     string
	Git      string
	Branch   string
	Tag      string
	Rev      string
	Registry string
}

// AddDependency edits the manifest at path, inserting or replacing the
// named dependency. The lockfile is left untouched; the next build
// detects the manifest hash change and re-resolves.
func AddDependency(path string, edit DepEdit) error {
	doc, err := readManifestDoc(path)
	if err != nil {
		return err
	}

	spec := map[string]interface{}{}
	switch {
	case edit.Path != "":
		spec["path"] = edit.Path
	case edit.Git != "":
		spec["git"] = edit.Git
		switch {
		case edit.Branch != "":
			spec["branch"] = edit.Branch
		case edit.Tag != "":
			spec["tag"] = edit.Tag
		case edit.Rev != "":
			spec["rev"] = edit.Rev
		}
	case edit.Registry != "":
		spec["registry"] = edit.Registry
	default:
		if err := manifest.ValidateRegistryName(edit.Name); err != nil {
			return err
		}
	}
	if edit.Version != "" {
		spec["version"] = edit.Version
	}
	if edit.Version == "" && edit.Path == "" && edit.Git == "" {
		return diag.New("dependency %q needs a version, path, or git source", edit.Name)
	}

	deps, ok := doc["dependencies"].(map[string]interface{})
	if !ok {
		deps = map[string]interface{}{}
		doc["dependencies"] = deps
	}

	// a bare version string keeps the compact form
	if len(spec) == 1 && edit.Version != "" {
		deps[edit.Name] = edit.Version
	} else {
		deps[edit.Name] = spec
	}

	return writeManifestDoc(path, doc)
}

// RemoveDependency edits the manifest at path, deleting the named
// dependency.
func RemoveDependency(path, name string) error {
	doc, err := readManifestDoc(path)
	if err != nil {
		return err
	}

	deps, ok := doc["dependencies"].(map[string]interface{})
	if !ok {
		return diag.New("manifest has no [dependencies] section")
	}
	if _, ok := deps[name]; !ok {
		return diag.New("dependency %q is not declared in %s", name, path).
			WithSuggestion("check the name against the [dependencies] section")
	}
	delete(deps, name)
	if len(deps) == 0 {
		delete(doc, "dependencies")
	}

	return writeManifestDoc(path, doc)
}

func readManifestDoc(path string) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read manifest: %w", err)
	}
	var doc map[string]interface{}
	if err := toml.Unmarshal(content, &doc); err != nil {
		return nil, diag.New("cannot edit malformed manifest %s", path).WithCause(err)
	}
	// validate the document is a manifest at all before editing it
	if _, err := manifest.Parse(string(content), path); err != nil {
		return nil, err
	}
	return doc, nil
}

func writeManifestDoc(path string, doc map[string]interface{}) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return xerrors.Errorf("encode manifest: %w", err)
	}
	// re-parse before writing so a bad edit never lands on disk
	if _, err := manifest.Parse(buf.String(), path); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return xerrors.Errorf("write manifest: %w", err)
	}
	return nil
}
