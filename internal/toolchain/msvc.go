package toolchain

import (
	"github.com/harbourpkg/harbour/internal/manifest"
)

// Msvc is the Microsoft Visual C++ family toolchain: cl.exe for both
// languages, lib.exe for archives, link.exe for linking.
type Msvc struct {
	CL   string
	Lib  string
	Link string
}

// NewMsvc creates an MSVC toolchain; empty tool paths default to the
// names resolved through the captured vcvarsall PATH.
func NewMsvc(cl, lib, link string) *Msvc {
	if cl == "" {
		cl = "cl.exe"
	}
	if lib == "" {
		lib = "lib.exe"
	}
	if link == "" {
		link = "link.exe"
	}
	return &Msvc{CL: cl, Lib: lib, Link: link}
}

func (m *Msvc) Family() Family          { return FamilyMsvc }
func (m *Msvc) CompilerPath() string    { return m.CL }
func (m *Msvc) CxxCompilerPath() string { return m.CL }

func (m *Msvc) CompileCommand(input CompileInput, lang manifest.Language, cxx *CxxOptions) CommandSpec {
	args := []string{"/nologo", "/c"}

	if lang == manifest.LanguageCxx {
		// cl infers language from the extension; /TP forces C++
		args = append(args, "/TP")
		if cxx != nil {
			if cxx.Std != 0 {
				args = append(args, "/std:c++"+cxx.Std.FlagValue())
			}
			if cxx.Exceptions {
				args = append(args, "/EHsc")
			} else {
				args = append(args, "/EHs-c-")
			}
			if cxx.RTTI {
				args = append(args, "/GR")
			} else {
				args = append(args, "/GR-")
			}
			args = append(args, cxx.MsvcRuntime.Flag(cxx.Debug))
		}
	}

	for _, dir := range input.IncludeDirs {
		args = append(args, "/I"+dir)
	}
	for _, d := range input.Defines {
		args = append(args, d.Flag("/D"))
	}
	args = append(args, input.Cflags...)
	args = append(args, input.Source, "/Fo"+input.Output)

	return CommandSpec{Program: m.CL, Args: args}
}

func (m *Msvc) ArchiveCommand(input ArchiveInput) CommandSpec {
	args := []string{"/nologo", "/OUT:" + input.Output}
	args = append(args, input.Objects...)
	return CommandSpec{Program: m.Lib, Args: args}
}

func (m *Msvc) linkCommand(input LinkInput, shared bool) CommandSpec {
	args := []string{"/nologo"}
	if shared {
		args = append(args, "/DLL")
	}
	args = append(args, "/OUT:"+input.Output)
	args = append(args, input.Objects...)
	for _, dir := range input.LibDirs {
		args = append(args, "/LIBPATH:"+dir)
	}
	args = append(args, input.LibFiles...)
	for _, lib := range input.Libs {
		args = append(args, lib+".lib")
	}
	args = append(args, input.Ldflags...)
	return CommandSpec{Program: m.Link, Args: args}
}

func (m *Msvc) LinkSharedCommand(input LinkInput, _ manifest.Language, _ *CxxOptions) CommandSpec {
	return m.linkCommand(input, true)
}

func (m *Msvc) LinkExeCommand(input LinkInput, _ manifest.Language, _ *CxxOptions) CommandSpec {
	return m.linkCommand(input, false)
}

func (m *Msvc) ObjectExtension() string    { return "obj" }
func (m *Msvc) StaticLibExtension() string { return "lib" }
func (m *Msvc) SharedLibExtension() string { return "dll" }
func (m *Msvc) ExeExtension() string       { return "exe" }
func (m *Msvc) StaticLibPrefix() string    { return "" }
func (m *Msvc) SharedLibPrefix() string    { return "" }
