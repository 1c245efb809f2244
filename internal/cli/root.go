// Package cli implements the satchel command-line interface: a thin
// shell over the entity manager that loads a declared schema from the
// config directory and exposes row CRUD and structured queries.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/satchel/internal/paths"
	"github.com/mesh-intelligence/satchel/pkg/codec"
	"github.com/mesh-intelligence/satchel/pkg/satchel"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	database  string
	jsonMode  bool
	verbose   bool
}

var (
	flags rootFlags
	log   = logrus.New()
)

// NewRootCmd creates the top-level "satchel" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "satchel",
		Short: "Satchel manages entities over an embedded SQLite database",
		Long: "Satchel declares entities at runtime from a schema file, reads and\n" +
			"mutates rows as identity-mapped objects, and defers writes into a\n" +
			"single atomic flush.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(cmd.ErrOrStderr())
			if flags.verbose {
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetLevel(logrus.WarnLevel)
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: ./.satchel if present, else the platform config directory)")
	root.PersistentFlags().StringVar(&flags.database, "db", "", "database file (default: from config.yaml)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newTablesCmd())
	root.AddCommand(newSQLCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newSetCmd())
	root.AddCommand(newDelCmd())
	root.AddCommand(newListCmd())

	return root
}

// Execute runs the root command and exits with code 1 if it fails.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitUserError)
	}
}

// openManager loads config and schema, opens the database, registers the
// declared entities, and runs their DDL. The caller closes the manager.
func openManager() (*satchel.Manager, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}
	dbPath, err := paths.ResolveDatabase(flags.database, cfg.GetString(cfgKeyDatabase), configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve database: %w", err)
	}
	log.WithField("database", dbPath).Debug("opening database")

	m, err := satchel.Open(dbPath, satchel.WithCodec(codec.JSON()))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := registerSchema(m, configDir); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// exitError prints a message to stderr and returns a silent error so
// cobra propagates the failure without reprinting it.
func exitError(cmd *cobra.Command, format string, args ...any) error {
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	return fmt.Errorf(format, args...)
}
