package build

import (
	"encoding/json"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/toolchain"
)

// compileCommand is one compile_commands.json entry.
type compileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments"`
	Output    string   `json:"output,omitempty"`
}

// EmitCompileCommands writes compile_commands.json for the plan, one
// entry per compile step, using the toolchain's own argv generation so
// IDE tooling sees exactly what the build runs.
func (p *Plan) EmitCompileCommands(ctx *Context, path string) error {
	commands := make([]compileCommand, 0, len(p.CompileSteps))
	for _, step := range p.CompileSteps {
		cflags := append(ctx.ProfileCflags(), step.Cflags...)
		input := toolchain.CompileInput{
			Source:      step.Source,
			Output:      step.Output,
			IncludeDirs: step.IncludeDirs,
			Defines:     step.Defines,
			Cflags:      cflags,
		}
		var cxx *toolchain.CxxOptions
		if step.Lang == manifest.LanguageCxx {
			opts := ctx.Cxx
			cxx = &opts
		}
		spec := ctx.Toolchain.CompileCommand(input, step.Lang, cxx)

		args := make([]string, 0, len(spec.Args)+1)
		args = append(args, spec.Program)
		args = append(args, spec.Args...)

		commands = append(commands, compileCommand{
			Directory: filepath.Dir(step.Source),
			File:      step.Source,
			Arguments: args,
			Output:    step.Output,
		})
	}

	content, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return xerrors.Errorf("encode compile_commands: %w", err)
	}
	if err := renameio.WriteFile(path, content, 0644); err != nil {
		return xerrors.Errorf("write %s: %w", path, err)
	}
	return nil
}
