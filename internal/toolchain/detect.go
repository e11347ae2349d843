package toolchain

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/harbourpkg/harbour/internal/abi"
	"github.com/harbourpkg/harbour/internal/config"
	"github.com/harbourpkg/harbour/internal/diag"
)

// Detect resolves the toolchain with the documented priority: explicit
// toolchain config (global then project, already merged by the caller),
// then CC/CXX/AR environment variables, then PATH discovery; on Windows
// MSVC auto-detection via vswhere/vcvarsall is the last resort.
func Detect(cfg *config.ToolchainConfig) (Toolchain, abi.CompilerIdentity, error) {
	cc := ""
	cxx := ""
	ar := ""

	if cfg != nil {
		cc, cxx, ar = cfg.CC, cfg.CXX, cfg.AR
	}
	if cc == "" {
		cc = os.Getenv("CC")
	}
	if cxx == "" {
		cxx = os.Getenv("CXX")
	}
	if ar == "" {
		ar = os.Getenv("AR")
	}

	if cc == "" {
		cc = findOnPath("gcc", "clang", "cc")
	}
	if ar == "" {
		ar = findOnPath("ar", "llvm-ar")
	}

	if cc != "" {
		identity := DetectCompilerIdentity(cc)
		family := familyOf(identity.Family)
		if family == FamilyMsvc {
			tc, env, err := detectMsvc()
			if err != nil {
				return nil, identity, err
			}
			return &EnvWrapper{Inner: tc, Env: env}, identity, nil
		}
		if ar == "" {
			return nil, identity, diag.New("no archiver found").
				WithSuggestion("set the AR environment variable").
				WithSuggestion("or install binutils (ar) / llvm (llvm-ar)")
		}
		return NewGcc(cc, cxx, ar, family), identity, nil
	}

	if runtime.GOOS == "windows" {
		tc, env, err := detectMsvc()
		if err != nil {
			return nil, abi.CompilerIdentity{}, err
		}
		return &EnvWrapper{Inner: tc, Env: env}, abi.CompilerIdentity{Family: "msvc", Version: "unknown"}, nil
	}

	return nil, abi.CompilerIdentity{}, diag.New("no C compiler found").
		WithSuggestion("set the CC environment variable").
		WithSuggestion("or install gcc or clang").
		WithSuggestion("or declare one in .harbour/toolchain.toml")
}

func findOnPath(names ...string) string {
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func familyOf(family string) Family {
	switch family {
	case "clang":
		if runtime.GOOS == "darwin" {
			return FamilyAppleClang
		}
		return FamilyClang
	case "msvc":
		return FamilyMsvc
	default:
		return FamilyGcc
	}
}

var versionRe = regexp.MustCompile(`\b(\d+)\.(\d+)(?:\.\d+)*\b`)

// DetectCompilerIdentity probes the compiler for its family and version:
// first the basename, then `--version` output.
func DetectCompilerIdentity(cc string) abi.CompilerIdentity {
	base := strings.ToLower(filepath.Base(cc))
	base = strings.TrimSuffix(base, ".exe")

	family := ""
	switch {
	case strings.Contains(base, "clang"):
		family = "clang"
	case strings.Contains(base, "gcc") || strings.Contains(base, "g++"):
		family = "gcc"
	case base == "cl":
		family = "msvc"
	}

	out, err := exec.Command(cc, "--version").CombinedOutput()
	version := "unknown"
	if err == nil {
		text := strings.ToLower(string(out))
		if family == "" {
			switch {
			case strings.Contains(text, "clang"):
				family = "clang"
			case strings.Contains(text, "gcc") || strings.Contains(text, "free software foundation"):
				family = "gcc"
			}
		}
		if m := versionRe.FindStringSubmatch(string(out)); m != nil {
			version = m[1] + "." + m[2]
		}
	}
	if family == "" {
		family = "unknown"
	}
	return abi.CompilerIdentity{Family: family, Version: version}
}

// detectMsvc locates the latest Visual Studio install with VC tools via
// vswhere, runs vcvarsall.bat, and captures the resulting environment.
func detectMsvc() (Toolchain, []string, error) {
	if runtime.GOOS != "windows" {
		return nil, nil, diag.New("MSVC toolchain requested on a non-Windows host").
			WithSuggestion("use gcc or clang, or cross-compile from Windows")
	}

	vswhere := filepath.Join(os.Getenv("ProgramFiles(x86)"),
		"Microsoft Visual Studio", "Installer", "vswhere.exe")
	if _, err := os.Stat(vswhere); err != nil {
		return nil, nil, diag.New("vswhere.exe not found; cannot locate Visual Studio").
			WithSuggestion("install Visual Studio with the C++ workload").
			WithSuggestion("or set CC to a clang/gcc toolchain")
	}

	out, err := exec.Command(vswhere,
		"-latest",
		"-requires", "Microsoft.VisualStudio.Component.VC.Tools.x86.x64",
		"-property", "installationPath").Output()
	if err != nil || len(strings.TrimSpace(string(out))) == 0 {
		return nil, nil, diag.New("no Visual Studio installation with VC tools found").
			WithSuggestion("install the \"Desktop development with C++\" workload")
	}
	installPath := strings.TrimSpace(string(out))

	vcvarsall := filepath.Join(installPath, "VC", "Auxiliary", "Build", "vcvarsall.bat")
	arch := "x64"
	if runtime.GOARCH == "arm64" {
		arch = "arm64"
	}

	env, err := captureVcvarsEnv(vcvarsall, arch)
	if err != nil {
		return nil, nil, diag.New("vcvarsall.bat failed").WithCause(err).
			WithSuggestion("repair the Visual Studio installation")
	}

	return NewMsvc("", "", ""), env, nil
}

// captureVcvarsEnv runs vcvarsall and diffs the relevant environment
// variables out of a `set` dump.
func captureVcvarsEnv(vcvarsall, arch string) ([]string, error) {
	cmd := exec.Command("cmd", "/s", "/c",
		"\""+vcvarsall+"\" "+arch+" >nul 2>&1 && set")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{"PATH": true, "INCLUDE": true, "LIB": true, "LIBPATH": true}
	var env []string
	for _, line := range strings.Split(string(out), "\r\n") {
		key, _, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if wanted[strings.ToUpper(key)] {
			env = append(env, line)
		}
	}
	if len(env) == 0 {
		return nil, diag.New("vcvarsall produced no environment")
	}
	logrus.Debugf("captured %d MSVC environment variables", len(env))
	return env, nil
}
