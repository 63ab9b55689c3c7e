package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"jdeobf/internal/classfile"
	"jdeobf/internal/classpath"
	"jdeobf/internal/config"
	jlog "jdeobf/internal/jdeobf/log"
	"jdeobf/internal/logging"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default: jdeobf.toml found upward from the working directory)")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Custom jdeobf data directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().StringSlice("classpath", nil, "Extra class files, jars or directories to load with the input")
	rootCmd.PersistentFlags().Int("max-steps", 0, "Instruction budget per execution (default from config)")
	rootCmd.PersistentFlags().Int("max-depth", 0, "Nested call budget per execution (default from config)")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")
}

var rootCmd = &cobra.Command{
	Use:   "jdeobf",
	Short: "Recover strings hidden by JVM obfuscators",
	Long: `jdeobf loads class files, jars and directories, finds calls to string
decryption routines whose arguments are constants, and recovers the plaintext
by running the routines in a bytecode interpreter backed by a simulated
standard library.`,
	Example: `
# Recover every decryptable string in a jar
jdeobf strings app.jar

# Browse methods, graphs and findings interactively
jdeobf browse app.jar

# Run one routine by hand
jdeobf exec app.jar 'a/b.c(Ljava/lang/String;I)Ljava/lang/String;' 'obkkh' 7
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile == "" {
			return nil
		}
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %v", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %v", err)
		}
		profileFile = f
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profileFile != nil {
			pprof.StopCPUProfile()
			profileFile.Close()
			profileFile = nil
		}
	},
}

var profileFile *os.File

// app is the state shared by every subcommand run.
type app struct {
	cfg    *config.Config
	logger *logging.LoggerCloser
}

// newApp resolves the configuration and loggers for cmd. Flags override the
// configuration file, which overrides the defaults.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	jlog.Setup(cfg.LogFile, cfg.Debug)

	lg := logging.NewLogger(cfg.DataDir)
	if cfg.Debug {
		lg.SetLevel(log.DebugLevel)
	}
	slog.Debug("configuration loaded", "dir", cfg.Dir, "classpath", cfg.Classpath, "max_steps", cfg.Execution.MaxSteps)
	return &app{cfg: cfg, logger: lg}, nil
}

func (a *app) Close() error {
	return a.logger.Close()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FindAndLoad(cwd)
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("classpath") {
		extra, _ := flags.GetStringSlice("classpath")
		cfg.Classpath = append(cfg.Classpath, extra...)
	}
	if flags.Changed("max-steps") {
		cfg.Execution.MaxSteps, _ = flags.GetInt("max-steps")
	}
	if flags.Changed("max-depth") {
		cfg.Execution.MaxDepth, _ = flags.GetInt("max-depth")
	}
	return cfg, cfg.Validate()
}

// load reads the input path and the configured classpath into one
// classpath. The returned classes are those of the input alone.
func (a *app) load(path string) (*classpath.Classpath, []*classfile.Class, error) {
	absPath, err := pathpkg.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve path: %v", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, nil, fmt.Errorf("cannot access file: %v", err)
	}

	cp := classpath.New(classpath.WithLogger(a.logger.Logger))
	if err := cp.LoadPath(absPath); err != nil {
		return nil, nil, err
	}
	inputs := cp.Classes()
	for _, p := range a.cfg.Classpath {
		if err := cp.LoadPath(p); err != nil {
			return nil, nil, fmt.Errorf("classpath entry: %w", err)
		}
	}
	a.logger.Debug("loaded classes", "input", len(inputs), "total", cp.Len())
	return cp, inputs, nil
}

// plainOutput reports whether output should skip colors and fang, because
// stdout is not a terminal or machine-readable output was requested.
func plainOutput(args []string) bool {
	for _, arg := range args {
		if arg == "--json" || arg == "-j" {
			return true
		}
	}
	return !term.IsTerminal(os.Stdout.Fd())
}

func Execute() {
	if plainOutput(os.Args[1:]) {
		os.Setenv("JDEOBF_NO_COLOR", "1")
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}
