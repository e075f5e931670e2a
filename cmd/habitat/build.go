package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
	"github.com/jeanhaley32/claude-habitat/internal/duration"
	"github.com/jeanhaley32/claude-habitat/internal/image"
	"github.com/jeanhaley32/claude-habitat/internal/phase"
	"github.com/jeanhaley32/claude-habitat/internal/platform"
	"github.com/jeanhaley32/claude-habitat/internal/repo"
	"github.com/jeanhaley32/claude-habitat/internal/session"
	"github.com/jeanhaley32/claude-habitat/internal/state"
	"github.com/jeanhaley32/claude-habitat/internal/terminal"
)

// progress prints phase progress to stdout.
type progress struct {
	total int
}

func (p progress) PhaseStarted(ph phase.Phase) {
	fmt.Printf("[%d/%d] %s: %s\n", ph.ID, p.total, ph.Name, ph.Description)
}

func (p progress) PhaseCompleted(ph phase.Phase, elapsed time.Duration, err error) {
	if err != nil {
		fmt.Printf("[%d/%d] %s failed after %s\n", ph.ID, p.total, ph.Name, duration.Format(elapsed))
		return
	}
	fmt.Printf("[%d/%d] %s done in %s\n", ph.ID, p.total, ph.Name, duration.Format(elapsed))
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("rebuild", false, "Ignore cached base and prepared images")
	cmd.Flags().StringArray("repo", nil, "Extra repository URL:PATH[:BRANCH] (repeatable)")
	cmd.Flags().Bool("token-stdin", false, "Read the git token from stdin")
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [config|habitat]",
		Short: "Build the prepared image for a habitat",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBuild,
	}
	addBuildFlags(cmd)
	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg, err := a.load(args)
	if err != nil {
		return err
	}
	a.recordUse(cfg)

	engine := docker.NewManager()
	if err := engine.Ping(a.ctx); err != nil {
		return err
	}

	result, err := a.prepare(cmd, engine, cfg)
	if err != nil {
		return err
	}
	if result.CacheHit {
		fmt.Printf("Prepared image %s is up to date.\n", result.ImageTag)
	} else {
		fmt.Printf("Prepared image %s built.\n", result.ImageTag)
	}
	return nil
}

// prepare runs the build pipeline. When a build fails on a terminal the
// user may retry it, rebuild from scratch, or abort.
func (a *app) prepare(cmd *cobra.Command, engine *docker.Manager, cfg *config.Config) (image.Result, error) {
	rebuild, err := cmd.Flags().GetBool("rebuild")
	if err != nil {
		return image.Result{}, fmt.Errorf("invalid rebuild flag: %w", err)
	}
	extraRepos, err := cmd.Flags().GetStringArray("repo")
	if err != nil {
		return image.Result{}, fmt.Errorf("invalid repo flag: %w", err)
	}

	tokenStdin, err := cmd.Flags().GetBool("token-stdin")
	if err != nil {
		return image.Result{}, fmt.Errorf("invalid token-stdin flag: %w", err)
	}

	if issues := duration.Validate(cfg.Timeout); len(issues) > 0 {
		return image.Result{}, &config.ConfigurationError{Path: cfg.Path, Violations: issues}
	}

	var stdinToken []byte
	if tokenStdin {
		stdinToken, err = terminal.ReadSecretFrom(os.Stdin)
		if err != nil {
			return image.Result{}, err
		}
		defer clear(stdinToken)
	}
	creds := a.credentials(stdinToken)
	defer creds.Clear()
	manager := image.NewManager(engine)
	manager.Credentials = creds
	manager.Access = repo.NewGitAccess(creds)
	manager.Observer = progress{total: len(phase.All())}
	manager.Out = os.Stdout
	if a.settings.Verbose {
		engine.Output = os.Stderr
	}

	opts := image.PrepareOptions{Rebuild: rebuild || a.settings.Rebuild, ExtraRepos: extraRepos}
	prompter := terminal.NewPrompter()
	for {
		result := manager.Prepare(a.ctx, cfg, opts)
		if result.Success {
			return result, nil
		}

		failure := result.Err.Error()
		if result.FailedPhase != "" {
			failure = fmt.Sprintf("phase %s: %v", result.FailedPhase, result.Err)
		}
		if a.ctx.Err() != nil {
			return result, result.Err
		}

		choice, err := prompter.PromptRecovery(failure)
		if err != nil {
			return result, errors.Join(result.Err, err)
		}
		switch choice {
		case terminal.Retry:
			continue
		case terminal.Rebuild:
			opts.Rebuild = true
			continue
		default:
			return result, result.Err
		}
	}
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [config|habitat]",
		Short: "Build if needed, start a session and attach to it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStart,
	}
	addBuildFlags(cmd)
	cmd.Flags().Bool("detach", false, "Start the session without attaching")
	cmd.Flags().Bool("shell", false, "Attach with a shell instead of the claude command")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	detach, err := cmd.Flags().GetBool("detach")
	if err != nil {
		return fmt.Errorf("invalid detach flag: %w", err)
	}
	shell, err := cmd.Flags().GetBool("shell")
	if err != nil {
		return fmt.Errorf("invalid shell flag: %w", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg, err := a.load(args)
	if err != nil {
		return err
	}
	a.recordUse(cfg)

	engine := docker.NewManager()
	if err := engine.Ping(a.ctx); err != nil {
		return err
	}

	result, err := a.prepare(cmd, engine, cfg)
	if err != nil {
		return err
	}

	rt := session.NewRuntime(engine)
	fmt.Println("Starting container...")
	s, err := rt.Start(a.ctx, session.NewHabitat(cfg, workspaceID()), result.ImageTag)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	fmt.Printf("Session %s started in container %s\n", s.ID, s.Habitat.ContainerName())

	if detach || !platform.SupportsAttach() {
		fmt.Println("Run 'habitat stop' to end the session.")
		return nil
	}

	fmt.Println("")
	fmt.Println("Entering container... (run 'habitat stop' afterwards to remove it)")
	fmt.Println("")
	return rt.Attach(s, shell)
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [config|habitat]",
		Short: "Stop and remove the habitat's session container",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStop,
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg, err := a.load(args)
	if err != nil {
		return err
	}

	rt := session.NewRuntime(docker.NewManager())
	fmt.Println("Stopping container...")
	name, err := rt.StopByName(a.ctx, session.NewHabitat(cfg, workspaceID()))
	if err != nil {
		fmt.Printf("Warning: Failed to stop container %s: %v\n", name, err)
		return nil
	}
	fmt.Printf("Container %s stopped.\n", name)
	return nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [config|habitat]",
		Short: "Show habitat image and session status",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	cmd.Flags().StringArray("repo", nil, "Extra repository URL:PATH[:BRANCH] (repeatable)")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	extraRepos, err := cmd.Flags().GetStringArray("repo")
	if err != nil {
		return fmt.Errorf("invalid repo flag: %w", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg, err := a.load(args)
	if err != nil {
		return err
	}

	engine := docker.NewManager()
	if err := engine.Ping(a.ctx); err != nil {
		fmt.Println("Warning: Docker is not running!")
		return nil
	}

	habitatState, err := state.NewDetector(engine, workspaceID()).Detect(a.ctx, cfg, extraRepos)
	if err != nil {
		return err
	}

	fmt.Println("Habitat Status")
	fmt.Println("==============")
	fmt.Println()
	fmt.Printf("Habitat:    %s (%s)\n", habitatState.Name, habitatState.ConfigPath)
	fmt.Printf("Cache hash: %s\n", habitatState.CacheHash)

	if habitatState.BaseExists {
		fmt.Printf("Base:       %s (exists)\n", habitatState.BaseImage)
	} else {
		fmt.Printf("Base:       %s (not built)\n", habitatState.BaseImage)
	}

	if habitatState.PreparedExists {
		fmt.Printf("Prepared:   %s (up to date)\n", habitatState.PreparedImage)
	} else {
		fmt.Printf("Prepared:   %s (needs build)\n", habitatState.PreparedImage)
	}

	if habitatState.ContainerRunning {
		fmt.Printf("Container:  Running (%s)\n", habitatState.ContainerName)
	} else {
		fmt.Println("Container:  Not running")
	}

	if habitatState.NeedsBuild() {
		fmt.Println()
		fmt.Println("Next 'habitat start' runs the build phases.")
	}
	return nil
}
