package toolchain

import (
	"runtime"
	"strings"

	"github.com/harbourpkg/harbour/internal/manifest"
)

// Gcc is the GCC/Clang family toolchain.
type Gcc struct {
	CC     string
	CXX    string
	AR     string
	Flavor Family // FamilyGcc, FamilyClang, or FamilyAppleClang
}

// NewGcc creates a GCC-style toolchain, inferring the C++ driver when cxx
// is empty.
func NewGcc(cc, cxx, ar string, flavor Family) *Gcc {
	if cxx == "" {
		cxx = InferCxx(cc)
	}
	if ar == "" {
		ar = "ar"
	}
	return &Gcc{CC: cc, CXX: cxx, AR: ar, Flavor: flavor}
}

// InferCxx derives the C++ driver path from the C driver:
// gcc -> g++, clang -> clang++, cc -> c++.
func InferCxx(cc string) string {
	switch {
	case strings.HasSuffix(cc, "gcc"):
		return cc[:len(cc)-2] + "++"
	case strings.HasSuffix(cc, "clang"):
		return cc + "++"
	case cc == "cc" || strings.HasSuffix(cc, "/cc") || strings.HasSuffix(cc, `\cc`) || strings.HasSuffix(cc, "-cc"):
		return cc[:len(cc)-1] + "++"
	default:
		return cc + "++"
	}
}

func (g *Gcc) Family() Family          { return g.Flavor }
func (g *Gcc) CompilerPath() string    { return g.CC }
func (g *Gcc) CxxCompilerPath() string { return g.CXX }

func (g *Gcc) cxxFlags(cxx *CxxOptions) []string {
	if cxx == nil {
		return nil
	}
	var flags []string
	if cxx.Std != 0 {
		flags = append(flags, "-std=c++"+cxx.Std.FlagValue())
	}
	if !cxx.Exceptions {
		flags = append(flags, "-fno-exceptions")
	}
	if !cxx.RTTI {
		flags = append(flags, "-fno-rtti")
	}
	if g.Flavor == FamilyClang && cxx.Runtime != "" {
		flags = append(flags, cxx.Runtime.Flag())
	}
	return flags
}

func (g *Gcc) CompileCommand(input CompileInput, lang manifest.Language, cxx *CxxOptions) CommandSpec {
	compiler := g.CC
	if lang == manifest.LanguageCxx {
		compiler = g.CXX
	}

	args := []string{"-c"}
	if lang == manifest.LanguageCxx {
		args = append(args, g.cxxFlags(cxx)...)
	}
	for _, dir := range input.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	for _, d := range input.Defines {
		args = append(args, d.Flag("-D"))
	}
	args = append(args, input.Cflags...)
	args = append(args, input.Source, "-o", input.Output)

	return CommandSpec{Program: compiler, Args: args}
}

func (g *Gcc) ArchiveCommand(input ArchiveInput) CommandSpec {
	args := []string{"rcs", input.Output}
	args = append(args, input.Objects...)
	return CommandSpec{Program: g.AR, Args: args}
}

func (g *Gcc) linkCommand(input LinkInput, driver manifest.Language, cxx *CxxOptions, shared bool) CommandSpec {
	linker := g.CC
	if driver == manifest.LanguageCxx {
		linker = g.CXX
	}

	var args []string
	if shared {
		args = append(args, "-shared")
	}
	if driver == manifest.LanguageCxx && cxx != nil && g.Flavor == FamilyClang && cxx.Runtime != "" {
		args = append(args, cxx.Runtime.Flag())
	}
	args = append(args, "-o", input.Output)
	args = append(args, input.Objects...)
	for _, dir := range input.LibDirs {
		args = append(args, "-L"+dir)
	}
	args = append(args, input.LibFiles...)
	for _, lib := range input.Libs {
		args = append(args, "-l"+lib)
	}
	args = append(args, input.Ldflags...)

	return CommandSpec{Program: linker, Args: args}
}

func (g *Gcc) LinkSharedCommand(input LinkInput, driver manifest.Language, cxx *CxxOptions) CommandSpec {
	return g.linkCommand(input, driver, cxx, true)
}

func (g *Gcc) LinkExeCommand(input LinkInput, driver manifest.Language, cxx *CxxOptions) CommandSpec {
	return g.linkCommand(input, driver, cxx, false)
}

func (g *Gcc) ObjectExtension() string    { return "o" }
func (g *Gcc) StaticLibExtension() string { return "a" }

func (g *Gcc) SharedLibExtension() string {
	if runtime.GOOS == "darwin" {
		return "dylib"
	}
	return "so"
}

func (g *Gcc) ExeExtension() string    { return "" }
func (g *Gcc) StaticLibPrefix() string { return "lib" }
func (g *Gcc) SharedLibPrefix() string { return "lib" }
