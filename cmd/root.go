// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/observability"
	"github.com/xkilldash9x/focusgroup/internal/service"
)

// rootOptions carries state shared by every subcommand of one invocation.
type rootOptions struct {
	cfgFile string
	cfg     *config.Config

	// factory builds the focus-group stack for analyze and serve.
	factory service.ComponentFactory
	// newLLM builds the reasoning client for persona generation.
	newLLM func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error)
}

// NewRootCommand creates a fresh command tree wired to the production
// components.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{
		factory: service.NewComponentFactory(),
		newLLM:  service.InitializeLLMClient,
	})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "focusgroup",
		Short:         "Focusgroup sends simulated personas through a website and reports what they found.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any command, setting up config and logging.
			cfg, err := loadConfig(opts.cfgFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			// Logs go to stderr so reports written to stdout stay parseable.
			observability.Initialize(cfg.Logger(), zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
			observability.GetLogger().Debug("Starting focusgroup", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(
		newAnalyzeCmd(opts),
		newPersonasCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with a signal aware context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Info("Command cancelled.")
		return err
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// loadConfig reads the config file and FOCUSGROUP_ environment variables on
// top of the built-in defaults. A missing default config file is not an
// error.
func loadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FOCUSGROUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return config.NewConfigFromViper(v)
}
