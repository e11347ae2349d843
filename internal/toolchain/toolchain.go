// Package toolchain emits neutral command specs for compiling, archiving,
// and linking across the GCC/Clang and MSVC families. Commands are never
// executed here; the build executor runs them.
package toolchain

import (
	"github.com/harbourpkg/harbour/internal/manifest"
)

// Family is the compiler family of a toolchain.
type Family string

const (
	FamilyGcc        Family = "gcc"
	FamilyClang      Family = "clang"
	FamilyAppleClang Family = "apple-clang"
	FamilyMsvc       Family = "msvc"
)

// CommandSpec is a command to execute: program, argv, and extra
// environment as KEY=VALUE strings.
type CommandSpec struct {
	Program string
	Args    []string
	Env     []string
}

// CxxOptions are the graph-wide C++ options handed to the toolchain for
// every C++ compile and link.
type CxxOptions struct {
	// Std is the effective standard; zero means none.
	Std manifest.CppStd

	// Exceptions and RTTI are graph-wide.
	Exceptions bool
	RTTI       bool

	// Runtime is the -stdlib selection; only meaningful for Clang.
	Runtime manifest.CppRuntime

	// MsvcRuntime is the CRT linkage; Windows only.
	MsvcRuntime manifest.MsvcRuntime

	// Debug selects the debug CRT flavors under MSVC.
	Debug bool
}

// DefaultCxxOptions returns the defaults (exceptions and RTTI on).
func DefaultCxxOptions() CxxOptions {
	return CxxOptions{Exceptions: true, RTTI: true}
}

// CompileInput is the input set for one compile step.
type CompileInput struct {
	Source      string
	Output      string
	IncludeDirs []string
	Defines     []manifest.Define
	Cflags      []string
}

// ArchiveInput is the input set for creating a static library.
type ArchiveInput struct {
	Objects []string
	Output  string
}

// LinkInput is the input set for linking an executable or shared library.
type LinkInput struct {
	Objects []string
	Output  string
	LibDirs []string

	// LibFiles are full paths to library files (built dependency
	// artifacts); they link before the named libraries so archives can
	// pull symbols from them.
	LibFiles []string

	Libs    []string // bare names, without -l
	Ldflags []string
}

// Toolchain generates commands for its compiler family.
type Toolchain interface {
	// Family returns the compiler family.
	Family() Family

	// CompilerPath returns the C compiler path.
	CompilerPath() string

	// CxxCompilerPath returns the C++ compiler path.
	CxxCompilerPath() string

	// CompileCommand builds the compile argv for one translation unit.
	// cxx is consulted only when lang is C++.
	CompileCommand(input CompileInput, lang manifest.Language, cxx *CxxOptions) CommandSpec

	// ArchiveCommand builds the static-library argv. Archiving never
	// uses the C++ driver.
	ArchiveCommand(input ArchiveInput) CommandSpec

	// LinkSharedCommand builds the shared-library link argv; driver
	// selects the C or C++ front-end.
	LinkSharedCommand(input LinkInput, driver manifest.Language, cxx *CxxOptions) CommandSpec

	// LinkExeCommand builds the executable link argv.
	LinkExeCommand(input LinkInput, driver manifest.Language, cxx *CxxOptions) CommandSpec

	// ObjectExtension is "o" or "obj".
	ObjectExtension() string

	// StaticLibExtension is "a" or "lib".
	StaticLibExtension() string

	// SharedLibExtension is "so", "dylib", or "dll".
	SharedLibExtension() string

	// ExeExtension is "" or "exe".
	ExeExtension() string

	// StaticLibPrefix is "lib" on Unix, "" on Windows.
	StaticLibPrefix() string

	// SharedLibPrefix mirrors StaticLibPrefix.
	SharedLibPrefix() string
}

// EnvWrapper injects a fixed environment into every CommandSpec produced
// by the wrapped toolchain. The MSVC detection uses it to carry the
// vcvarsall environment.
type EnvWrapper struct {
	Inner Toolchain
	Env   []string
}

func (w *EnvWrapper) inject(spec CommandSpec) CommandSpec {
	spec.Env = append(append([]string(nil), spec.Env...), w.Env...)
	return spec
}

func (w *EnvWrapper) Family() Family          { return w.Inner.Family() }
func (w *EnvWrapper) CompilerPath() string    { return w.Inner.CompilerPath() }
func (w *EnvWrapper) CxxCompilerPath() string { return w.Inner.CxxCompilerPath() }

func (w *EnvWrapper) CompileCommand(input CompileInput, lang manifest.Language, cxx *CxxOptions) CommandSpec {
	return w.inject(w.Inner.CompileCommand(input, lang, cxx))
}

func (w *EnvWrapper) ArchiveCommand(input ArchiveInput) CommandSpec {
	return w.inject(w.Inner.ArchiveCommand(input))
}

func (w *EnvWrapper) LinkSharedCommand(input LinkInput, driver manifest.Language, cxx *CxxOptions) CommandSpec {
	return w.inject(w.Inner.LinkSharedCommand(input, driver, cxx))
}

func (w *EnvWrapper) LinkExeCommand(input LinkInput, driver manifest.Language, cxx *CxxOptions) CommandSpec {
	return w.inject(w.Inner.LinkExeCommand(input, driver, cxx))
}

func (w *EnvWrapper) ObjectExtension() string     { return w.Inner.ObjectExtension() }
func (w *EnvWrapper) StaticLibExtension() string  { return w.Inner.StaticLibExtension() }
func (w *EnvWrapper) SharedLibExtension() string  { return w.Inner.SharedLibExtension() }
func (w *EnvWrapper) ExeExtension() string        { return w.Inner.ExeExtension() }
func (w *EnvWrapper) StaticLibPrefix() string     { return w.Inner.StaticLibPrefix() }
func (w *EnvWrapper) SharedLibPrefix() string     { return w.Inner.SharedLibPrefix() }
