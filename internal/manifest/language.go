package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Language is the source language of a target.
type Language int

const (
	// LanguageC is the default.
	LanguageC Language = iota
	LanguageCxx
)

func (l Language) String() string {
	if l == LanguageCxx {
		return "c++"
	}
	return "c"
}

// UnmarshalTOML accepts "c", "c++", "cpp", "cxx".
func (l *Language) UnmarshalTOML(data interface{}) error {
	s, ok := data.(string)
	if !ok {
		return xerrors.Errorf("lang must be a string, got %T", data)
	}
	switch strings.ToLower(s) {
	case "c":
		*l = LanguageC
	case "c++", "cpp", "cxx":
		*l = LanguageCxx
	default:
		return xerrors.Errorf("unknown language %q (expected \"c\" or \"c++\")", s)
	}
	return nil
}

// CppStd is a C++ standard revision. The zero value means unset.
type CppStd int

// Known standards, ordered so plain comparison unifies them.
const (
	Cpp11 CppStd = 11
	Cpp14 CppStd = 14
	Cpp17 CppStd = 17
	Cpp20 CppStd = 20
	Cpp23 CppStd = 23
)

func (s CppStd) String() string {
	if s == 0 {
		return "C++?"
	}
	return fmt.Sprintf("C++%d", int(s))
}

// FlagValue returns the value used in -std=c++NN / /std:c++NN.
func (s CppStd) FlagValue() string { return strconv.Itoa(int(s)) }

// ParseCppStd parses "17", "c++17", or 17.
func ParseCppStd(v interface{}) (CppStd, error) {
	switch x := v.(type) {
	case int64:
		return cppStdFromInt(int(x))
	case int:
		return cppStdFromInt(x)
	case string:
		trimmed := strings.TrimPrefix(strings.ToLower(x), "c++")
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, xerrors.Errorf("invalid C++ standard %q", x)
		}
		return cppStdFromInt(n)
	default:
		return 0, xerrors.Errorf("C++ standard must be a number or string, got %T", v)
	}
}

func cppStdFromInt(n int) (CppStd, error) {
	switch CppStd(n) {
	case Cpp11, Cpp14, Cpp17, Cpp20, Cpp23:
		return CppStd(n), nil
	default:
		return 0, xerrors.Errorf("unknown C++ standard %d (expected 11, 14, 17, 20 or 23)", n)
	}
}

// UnmarshalTOML accepts both `cpp_std = 17` and `cpp_std = "17"`.
func (s *CppStd) UnmarshalTOML(data interface{}) error {
	std, err := ParseCppStd(data)
	if err != nil {
		return err
	}
	*s = std
	return nil
}

// CStd is a C standard revision ("99", "11", "17"), kept as written.
type CStd string

// CppRuntime selects the C++ standard library (meaningful for Clang only).
type CppRuntime string

const (
	RuntimeLibstdcxx CppRuntime = "libstdc++"
	RuntimeLibcxx    CppRuntime = "libc++"
)

// Flag returns the -stdlib= form.
func (r CppRuntime) Flag() string { return "-stdlib=" + string(r) }

// UnmarshalTOML accepts "libstdc++"/"libstdcxx" and "libc++"/"libcxx".
func (r *CppRuntime) UnmarshalTOML(data interface{}) error {
	s, ok := data.(string)
	if !ok {
		return xerrors.Errorf("cpp_runtime must be a string, got %T", data)
	}
	switch strings.ToLower(s) {
	case "libstdc++", "libstdcxx":
		*r = RuntimeLibstdcxx
	case "libc++", "libcxx":
		*r = RuntimeLibcxx
	default:
		return xerrors.Errorf("unknown C++ runtime %q", s)
	}
	return nil
}

// MsvcRuntime selects the MSVC CRT linkage; a single graph-wide value.
type MsvcRuntime string

const (
	MsvcDynamic MsvcRuntime = "dynamic" // /MD, /MDd
	MsvcStatic  MsvcRuntime = "static"  // /MT, /MTd
)

// Flag returns the CRT flag for release or debug builds.
func (r MsvcRuntime) Flag(debug bool) string {
	switch r {
	case MsvcStatic:
		if debug {
			return "/MTd"
		}
		return "/MT"
	default:
		if debug {
			return "/MDd"
		}
		return "/MD"
	}
}

// UnmarshalTOML accepts "dynamic"/"md" and "static"/"mt".
func (r *MsvcRuntime) UnmarshalTOML(data interface{}) error {
	s, ok := data.(string)
	if !ok {
		return xerrors.Errorf("msvc_runtime must be a string, got %T", data)
	}
	switch strings.ToLower(s) {
	case "dynamic", "md":
		*r = MsvcDynamic
	case "static", "mt":
		*r = MsvcStatic
	default:
		return xerrors.Errorf("unknown MSVC runtime %q", s)
	}
	return nil
}
