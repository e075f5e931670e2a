package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/credential"
	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
	"github.com/jeanhaley32/claude-habitat/internal/platform"
	"github.com/jeanhaley32/claude-habitat/internal/repo"
	"github.com/jeanhaley32/claude-habitat/internal/state"
	"github.com/jeanhaley32/claude-habitat/internal/terminal"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "habitat",
	Short: "Isolated Docker development environments for Claude",
	Long: `Habitat builds and runs Docker development environments ("habitats")
that combine project repositories, tools and configuration for an AI
coding assistant. Prepared images are cached by a hash of the habitat
configuration and reused until the configuration changes.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(
		newBuildCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newVerifyCmd(),
		newHashCmd(),
		newQueryCmd(),
		newValidateCmd(),
		newLastCmd(),
		newListCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("settings", "", "settings file (default .habitat.yaml)")
	rootCmd.PersistentFlags().String("root", "", "project root holding system/, shared/ and habitats/ (default: inferred from the config path)")
	rootCmd.PersistentFlags().String("state-file", "", "last used record (default ~/.claude-habitat/last-used.toml)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	for key, flag := range map[string]string{
		"root":       "root",
		"state_file": "state-file",
		"log_format": "log-format",
		"verbose":    "verbose",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func initConfig() {
	if settingsFile, _ := rootCmd.Flags().GetString("settings"); settingsFile != "" {
		viper.SetConfigFile(settingsFile)
	} else {
		viper.SetConfigName(".habitat")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, constants.StateDirName))
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("HABITAT")
	viper.AutomaticEnv()

	// It's fine if no settings file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// app is the per-invocation wiring shared by commands.
type app struct {
	ctx      context.Context
	settings config.Settings
	store    state.Store
}

func newApp(cmd *cobra.Command) (*app, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	store, err := state.NewFileStore(settings.StateFile)
	if err != nil {
		return nil, err
	}
	logger := ctxlog.New(os.Stderr, settings.LogFormat, settings.Verbose)
	return &app{
		ctx:      ctxlog.WithLogger(cmd.Context(), logger),
		settings: settings,
		store:    store,
	}, nil
}

// resolve finds the habitat config named by args, falling back to the
// local config and then the last used one.
func (a *app) resolve(args []string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	var arg string
	if len(args) > 0 {
		arg = args[0]
	}
	root := a.settings.Root
	if root == "" {
		root = cwd
	}
	resolver := &state.Resolver{Root: root, Store: a.store}
	return resolver.Resolve(arg, cwd)
}

// load resolves, loads and validates a habitat config.
func (a *app) load(args []string) (*config.Config, error) {
	path, err := a.resolve(args)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, a.settings.LoadOptionsFor(path))
	if err != nil {
		return nil, err
	}
	if err := config.ValidateHabitatConfig(cfg); err != nil {
		return nil, err
	}
	ctxlog.FromContext(a.ctx).Debug("loaded habitat config", "config", cfg.Path, "env", cfg.Env.Len())
	return cfg, nil
}

// recordUse remembers cfg as the last used configuration.
func (a *app) recordUse(cfg *config.Config) {
	if err := state.RecordUse(a.store, cfg.Path, time.Now()); err != nil {
		ctxlog.FromContext(a.ctx).Warn("failed to record last used config", "error", err)
	}
}

// credentials returns the git credential sources: a token read from
// stdin, environment, the token file in the state directory, then an
// interactive prompt. The first answer is reused for the whole run.
func (a *app) credentials(stdinToken []byte) *credential.Cached {
	var chain credential.Chain
	if stdinToken != nil {
		chain = append(chain, credential.TokenProvider{Token: stdinToken, Source: "stdin"})
	}
	chain = append(chain, credential.EnvProvider{})
	if home, err := os.UserHomeDir(); err == nil {
		chain = append(chain, credential.FileProvider{Path: filepath.Join(home, constants.StateDirName, "github-token")})
	}
	if stdinToken == nil && terminal.IsTerminal() {
		chain = append(chain, credential.PromptProvider{
			Prompt: "GitHub token (leave empty for anonymous access): ",
			Read:   terminal.ReadSecret,
		})
	}
	return credential.NewCached(chain)
}

// workspaceID identifies the current workspace for container names.
// workspaceID identifies the current workspace for container naming.
// Outside a repository the workspace directory name is used, so start,
// stop and status agree on the container.
func workspaceID() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	identifier := repo.NewIdentifier()
	root, err := identifier.GetWorkspaceRoot(cwd)
	if err != nil {
		root = cwd
	}
	id, err := identifier.GetRepoID(root)
	if err != nil {
		return repo.SanitizeName(filepath.Base(root))
	}
	return id
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("habitat version %s\n", version)
			fmt.Printf("Platform: %s\n", platform.String())
		},
	}
}
