// Package cli implements the hostsgen command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hostsgen/pkg/config"
	"hostsgen/pkg/logger"
)

// app carries state shared by all subcommands of one invocation.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	log        *slog.Logger
	logCloser  io.Closer
}

// NewRootCommand builds the command tree. Output of commands goes to stdout,
// errors are returned to the caller.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "hostsgen",
		Short:         "Aggregate blocklists into one DNS sinkhole hosts file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $HOSTSGEN_CONFIG or /etc/hostsgen/hostsgen.conf)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-file", "", "log destination: stdout, stderr or a file path")
	mustBind(a.v, "logging.level", pf.Lookup("log-level"))
	mustBind(a.v, "logging.file", pf.Lookup("log-file"))

	root.AddCommand(
		newBuildCommand(a),
		newWatchCommand(a),
		newNormalizeCommand(),
		newSourcesCommand(a),
		newHistoryCommand(a),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration and sets up logging. Logs that would go to
// stdout are redirected to stderr when quietStdout is set, so that command
// output stays machine readable.
func (a *app) load(quietStdout bool) error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	logFile := cfg.Logging.File
	if quietStdout && (logFile == "" || strings.EqualFold(logFile, "stdout")) {
		logFile = "stderr"
	}
	log, closer, err := logger.Setup(cfg.Logging.Level, logFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.logCloser = closer
	if cfg.Path != "" {
		log.Debug("loaded config", "path", cfg.Path)
	}
	return nil
}

// close releases the log file opened by load.
func (a *app) close() error {
	if a.logCloser == nil {
		return nil
	}
	err := a.logCloser.Close()
	a.logCloser = nil
	return err
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for %s is not defined", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
