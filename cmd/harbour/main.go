// Command harbour is the thin front-end over the core operations. The
// human-facing rendering and richer CLI surface live with the CLI
// collaborator; this entry point only dispatches.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	harbour "github.com/harbourpkg/harbour"
	"github.com/harbourpkg/harbour/internal/manifest"
	"github.com/harbourpkg/harbour/internal/ops"
	"github.com/harbourpkg/harbour/internal/workspace"
)

const usage = `harbour - a package manager and build system for C/C++

Commands:
  build     resolve, plan, and build the workspace
  update    re-resolve dependencies and rewrite the lockfile
  resolve   print the resolved package set
  add       add a dependency to the manifest
  remove    remove a dependency from the manifest
`

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	version := flag.Bool("version", false, "print the harbour version")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *version {
		fmt.Println("harbour", harbour.Version)
		return
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "build":
		err = runBuild(args[1:])
	case "update":
		err = runUpdate()
	case "resolve":
		err = runResolve(args[1:])
	case "add":
		err = runAdd(args[1:])
	case "remove":
		err = runRemove(args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	locked := fs.Bool("locked", false, "fail if the lockfile would change")
	release := fs.Bool("release", false, "build with the release profile")
	jobs := fs.Int("jobs", 0, "parallel compile jobs (default: host parallelism)")
	std := fs.String("std", "", "override the C++ standard (e.g. 20)")
	target := fs.String("target", "", "build only the named target")
	planOnly := fs.Bool("plan", false, "print the plan without building")
	compileCommands := fs.Bool("compile-commands", false, "emit compile_commands.json")
	fs.Parse(args)

	s, err := ops.NewSession(cwd())
	if err != nil {
		return err
	}

	opts := ops.BuildOptions{
		Locked:   *locked,
		Jobs:     *jobs,
		PlanOnly: *planOnly,
	}
	if *release {
		opts.Profile = "release"
	}
	if *std != "" {
		parsed, err := manifest.ParseCppStd(*std)
		if err != nil {
			return err
		}
		opts.Std = parsed
	}
	if *target != "" {
		opts.TargetFilter = []string{*target}
	}
	if *compileCommands || s.Config.Build.EmitCompileCommands {
		opts.CompileCommandsPath = filepath.Join(s.WS.Root(), "compile_commands.json")
	}

	result, err := s.Build(opts)
	if err != nil {
		return err
	}

	if *planOnly {
		for _, line := range result.Plan.BuildOrder {
			fmt.Println(line)
		}
		return nil
	}

	fmt.Printf("built %d artifact(s): %d compiled, %d fresh\n",
		len(result.Artifacts), result.Stats.Compiled, result.Stats.CompileSkipped)
	return nil
}

func runUpdate() error {
	s, err := ops.NewSession(cwd())
	if err != nil {
		return err
	}
	_, err = s.Update()
	return err
}

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	locked := fs.Bool("locked", false, "fail if the lockfile would change")
	fs.Parse(args)

	s, err := ops.NewSession(cwd())
	if err != nil {
		return err
	}
	res, _, err := s.ResolveWorkspace(*locked)
	if err != nil {
		return err
	}
	for _, id := range res.TopologicalOrder() {
		fmt.Printf("%s %s (%s)\n", id.Name(), id.Version(), id.SourceID())
	}
	return nil
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	version := fs.String("version", "", "version requirement")
	path := fs.String("path", "", "path dependency")
	git := fs.String("git", "", "git dependency url")
	branch := fs.String("branch", "", "git branch")
	tag := fs.String("tag", "", "git tag")
	rev := fs.String("rev", "", "git revision")
	registry := fs.String("registry", "", "registry url")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: harbour add [flags] <name>")
	}

	manifestPath, err := workspace.FindManifest(cwd())
	if err != nil {
		return err
	}
	return ops.AddDependency(manifestPath, ops.DepEdit{
		Name:     fs.Arg(0),
		Version:  *version,
		Path:     *path,
		Git:      *git,
		Branch:   *branch,
		Tag:      *tag,
		Rev:      *rev,
		Registry: *registry,
	})
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: harbour remove <name>")
	}

	manifestPath, err := workspace.FindManifest(cwd())
	if err != nil {
		return err
	}
	return ops.RemoveDependency(manifestPath, fs.Arg(0))
}
