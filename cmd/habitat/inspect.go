package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jeanhaley32/claude-habitat/internal/cachehash"
	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
	"github.com/jeanhaley32/claude-habitat/internal/image"
	"github.com/jeanhaley32/claude-habitat/internal/state"
	"github.com/jeanhaley32/claude-habitat/internal/verify"
	"github.com/jeanhaley32/claude-habitat/internal/watch"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [config|habitat]",
		Short: "Check required files inside a habitat container",
		Long: `Checks every verify-fs.required_files entry of the selected scope inside
a container and prints one PASS or FAIL line per file followed by a
RESULT tally. Without --container a temporary container is started from
the prepared image.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runVerify,
	}
	cmd.Flags().String("scope", string(config.ScopeAll), "Scope: system, shared, habitat or all")
	cmd.Flags().String("container", "", "Verify a running container instead of the prepared image")
	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	scope, err := cmd.Flags().GetString("scope")
	if err != nil {
		return fmt.Errorf("invalid scope flag: %w", err)
	}
	container, err := cmd.Flags().GetString("container")
	if err != nil {
		return fmt.Errorf("invalid container flag: %w", err)
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
		return err
	}

	if container == "" {
		prepared, err := image.NewManager(engine).PreparedImage(cfg, nil)
		if err != nil {
			return err
		}
		exists, err := engine.ImageExists(a.ctx, prepared.Tag)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("prepared image %s not found. Run 'habitat build' first", prepared.Tag)
		}

		container, err = engine.Run(a.ctx, docker.RunSpec{
			Image:      prepared.Tag,
			Name:       fmt.Sprintf("%s-verify-%s", constants.ContainerPrefix, uuid.NewString()[:8]),
			User:       "root",
			Entrypoint: "tail",
			Command:    []string{"-f", "/dev/null"},
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := engine.Remove(a.ctx, container); err != nil {
				ctxlog.FromContext(a.ctx).Warn("failed to remove verify container", "container", container, "error", err)
			}
		}()
	}

	_, err = verify.NewVerifier(engine, cfg, os.Stdout).VerifyConfig(a.ctx, container, cfg, config.Scope(scope))
	return err
}

func newHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash [config|habitat]",
		Short: "Print the cache hash and prepared image tag",
		Long: `Prints the cache hash of a habitat and the prepared image tag it keys.
With --document the hash of an arbitrary YAML or JSON document is printed
instead; the document must be an object.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHash,
	}
	cmd.Flags().StringArray("repo", nil, "Extra repository URL:PATH[:BRANCH] (repeatable)")
	cmd.Flags().String("document", "", "Hash a merged configuration document read from this file")
	return cmd
}

func runHash(cmd *cobra.Command, args []string) error {
	extraRepos, err := cmd.Flags().GetStringArray("repo")
	if err != nil {
		return fmt.Errorf("invalid repo flag: %w", err)
	}
	document, err := cmd.Flags().GetString("document")
	if err != nil {
		return fmt.Errorf("invalid document flag: %w", err)
	}

	if document != "" {
		data, err := os.ReadFile(document)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse document %s: %w", document, err)
		}
		hash, err := cachehash.CalculateAny(doc, extraRepos)
		if err != nil {
			return err
		}
		fmt.Printf("HASH=%s\n", hash)
		return nil
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg, err := a.load(args)
	if err != nil {
		return err
	}

	prepared, err := image.NewManager(nil).PreparedImage(cfg, extraRepos)
	if err != nil {
		return err
	}
	fmt.Printf("HASH=%s\n", prepared.CacheHash)
	fmt.Printf("IMAGE=%s\n", prepared.Tag)
	return nil
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <config|habitat> <path>",
		Short: "Print a value from the merged configuration",
		Long: `Navigates the merged configuration with a dotted path such as
"container.work_dir" or "repositories[0].url". Placeholders are expanded
unless --raw is given.`,
		Args: cobra.ExactArgs(2),
		RunE: runQuery,
	}
	cmd.Flags().Bool("raw", false, "Query the document before placeholder expansion")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	raw, err := cmd.Flags().GetBool("raw")
	if err != nil {
		return fmt.Errorf("invalid raw flag: %w", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	path, err := a.resolve(args[:1])
	if err != nil {
		return err
	}
	cfg, err := config.Load(path, a.settings.LoadOptionsFor(path))
	if err != nil {
		return err
	}

	doc := cfg.Raw
	if !raw {
		doc = cfg.Document
	}
	text, ok := config.QueryText(doc, args[1])
	if !ok {
		ctxlog.FromContext(a.ctx).Debug("no value at query path", "config", cfg.Path, "query", args[1])
	}
	fmt.Println(text)
	return nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config|habitat]",
		Short: "Validate a habitat configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	cmd.Flags().Bool("strict", false, "Also fail on placeholders that do not resolve at build time")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	strict, err := cmd.Flags().GetBool("strict")
	if err != nil {
		return fmt.Errorf("invalid strict flag: %w", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	path, err := a.resolve(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path, a.settings.LoadOptionsFor(path))
	if err != nil {
		return err
	}

	violations := config.Violations(cfg)
	if strict {
		violations = append(violations, config.UnresolvedPlaceholders(cfg)...)
	}
	if len(violations) > 0 {
		return &config.ConfigurationError{Path: cfg.Path, Violations: violations}
	}
	fmt.Printf("%s is valid.\n", cfg.Path)
	return nil
}

func newLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the last used habitat configuration",
		Args:  cobra.NoArgs,
		RunE:  runLast,
	}
}

func runLast(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	record, err := a.store.LastUsed()
	if errors.Is(err, state.ErrNoRecord) {
		fmt.Println("No habitat has been used yet.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("CONFIG_PATH=%s\n", record.ConfigPath)
	fmt.Printf("TIMESTAMP=%s\n", record.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List habitats under the project root",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	root := a.settings.Root
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
	}

	names, err := state.ListHabitats(root)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("No habitats found under %s\n", root)
		return nil
	}

	last := ""
	if record, err := a.store.LastUsed(); err == nil {
		last = record.ConfigPath
	}
	for _, name := range names {
		path := filepath.Join(root, constants.HabitatsDir, name, constants.ConfigFileName)
		marker := " "
		if path == last {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, name)
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [config|habitat]",
		Short: "Report when config edits change the cache hash",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	path, err := a.resolve(args)
	if err != nil {
		return err
	}
	opts := a.settings.LoadOptionsFor(path)
	files := []string{path}
	for _, layer := range []string{opts.SystemPath, opts.SharedPath} {
		if layer == "" {
			continue
		}
		if _, err := os.Stat(layer); err == nil {
			files = append(files, layer)
		}
	}

	hashes := image.NewManager(nil)
	w, err := watch.New(files, func() (string, error) {
		cfg, err := config.Load(path, opts)
		if err != nil {
			return "", err
		}
		return hashes.GenerateCacheHash(cfg, nil)
	})
	if err != nil {
		return err
	}
	current, err := w.Start()
	if err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("Watching %d file(s). Current hash %s. Press Ctrl+C to stop.\n", len(files), current)
	for {
		select {
		case <-a.ctx.Done():
			return nil
		case change, ok := <-w.Changes:
			if !ok {
				return nil
			}
			if change.Err != nil {
				fmt.Printf("ERROR %s: %v\n", change.File, change.Err)
				continue
			}
			fmt.Printf("CHANGED %s %s -> %s (next start rebuilds)\n", change.File, change.Previous, change.Hash)
		}
	}
}
