package core

// ResolvedSourceKind tags what a registry shim resolved to.
type ResolvedSourceKind string

const (
	ResolvedGit     ResolvedSourceKind = "git"
	ResolvedTarball ResolvedSourceKind = "tarball"
)

// ResolvedSource records the concrete upstream a shim pointed at.
type ResolvedSource struct {
	Kind ResolvedSourceKind `toml:"kind"`
	URL  string             `toml:"url"`
	// Rev is the full 40-char commit for git sources.
	Rev string `toml:"rev,omitempty"`
	// SHA256 is the tarball content hash for tarball sources.
	SHA256 string `toml:"sha256,omitempty"`
}

// RegistryProvenance ties a registry package back to the exact shim and
// upstream it was fetched from, for lockfile reproducibility.
type RegistryProvenance struct {
	// ShimPath is the shim location within the index,
	// e.g. "z/zlib/1.3.1.toml".
	ShimPath string `toml:"shim_path"`

	// ShimHash is the sha256 of the shim file content.
	ShimHash string `toml:"shim_hash"`

	// Resolved is the upstream the shim declared.
	Resolved ResolvedSource `toml:"resolved"`
}

// VcpkgProvenance records the exact vcpkg port flavor a package came from.
type VcpkgProvenance struct {
	Port        string   `toml:"port"`
	Version     string   `toml:"version"`
	PortVersion int      `toml:"port_version,omitempty"`
	Triplet     string   `toml:"triplet"`
	Features    []string `toml:"features,omitempty"`
	Baseline    string   `toml:"baseline,omitempty"`
}
