package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/console"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("fnpublish", flag.ContinueOnError)
	flags.SetOutput(stderr)

	configPath := flags.String("config", "", "Path to config file")
	targetPath := flags.String("target", "", "Path to the target descriptor (required)")
	dir := flags.String("dir", ".", "Project directory, or a prebuilt .zip/.squashfs package")
	buildFlag := flags.String("build", "", "Build option: local, remote, container or none")
	force := flags.Bool("force", false, "Update mismatched runtime settings instead of failing")
	runFromPackage := flags.Bool("run-from-package", false, "Run from the local package on dedicated targets")
	nativeDeps := flags.Bool("native-deps", false, "Package was post-processed for native dependencies")
	noBuild := flags.Bool("no-build", false, "Skip any build step")
	publishLocal := flags.Bool("publish-local-settings", false, "Publish local settings after deploying")
	settingsOnly := flags.Bool("settings-only", false, "Only publish local settings")
	localSettingsPath := flags.String("local-settings", "", "Local settings file (default <dir>/"+DefaultLocalSettingsFile+")")
	overwrite := flags.Bool("overwrite-settings", false, "Let local settings replace differing remote values")
	workerRuntime := flags.String("worker-runtime", "", "Local worker runtime (default from local settings)")
	verbose := flags.Bool("verbose", false, "Print verbose output")
	showVersion := flags.Bool("version", false, "Print version and exit")

	if err := flags.Parse(args); err != nil {
		return ExitConfigError
	}

	if *showVersion {
		fmt.Fprintf(stdout, "fnpublish %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg, stderr)
	printer := console.New(stdout, *verbose)

	if *targetPath == "" {
		printer.Error("-target is required")
		return ExitConfigError
	}

	build, err := domain.ParseBuildOption(*buildFlag)
	if err != nil {
		printer.Error("%v", err)
		return ExitConfigError
	}
	build = domain.ResolveBuildOption(build, *nativeDeps, *noBuild)

	if *localSettingsPath == "" {
		*localSettingsPath = filepath.Join(*dir, DefaultLocalSettingsFile)
	}
	local, err := ReadLocalSettings(*localSettingsPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || *publishLocal || *settingsOnly {
			printer.Error("%v", err)
			return ExitConfigError
		}
	}
	runtime := *workerRuntime
	if runtime == "" {
		runtime = localWorkerRuntime(local)
	}

	logger.Info("starting fnpublish",
		"version", Version,
		"target", *targetPath,
		"build", build,
	)

	p := NewPublisher(cfg, printer, logger)
	err = p.Run(ctx, Request{
		TargetPath: *targetPath,
		Package:    *dir,
		Build:      build,
		Flags: deployment.Flags{
			RunFromPackage:     *runFromPackage,
			NativeDependencies: *nativeDeps,
		},
		Force:                *force,
		PublishLocalSettings: *publishLocal,
		SettingsOnly:         *settingsOnly,
		LocalSettings:        local,
		OverwriteSettings:    *overwrite,
		WorkerRuntime:        runtime,
	})
	if err != nil {
		printer.Error("%v", err)
		logger.Error("publish failed", "error", err)
		return ExitCode(err)
	}
	return ExitSuccess
}
