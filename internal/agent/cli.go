package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ErrUsage marks command line mistakes. The binary exits with status 2 on it.
var ErrUsage = errors.New("invalid usage")

// Env is the process environment the CLI reads from.
type Env struct {
	Args   []string
	Getenv func(string) string
	Getwd  func() (string, error)
	Stdout io.Writer
	Stderr io.Writer
}

// Main runs one invocation of the sessionguard command. Usage errors print
// the usage of the command that failed.
func Main(ctx context.Context, env Env) error {
	root := NewRootCommand(env)

	args := env.Args
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	if env.Stdout != nil {
		root.SetOut(env.Stdout)
	}
	if env.Stderr != nil {
		root.SetErr(env.Stderr)
	}

	cmd, err := root.ExecuteContextC(ctx)
	if errors.Is(err, ErrUsage) && cmd != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
	}
	return err
}

// cli is the state shared by the subcommands of one invocation.
type cli struct {
	env    Env
	cfg    *Config
	logger *slog.Logger
}

// NewRootCommand builds the command tree. Configuration is resolved before
// any subcommand runs: defaults, then .env, then the environment, then flags.
func NewRootCommand(env Env) *cobra.Command {
	c := &cli{env: env, cfg: NewConfig()}

	root := &cobra.Command{
		Use:   "sessionguard",
		Short: "Keep a storefront customer session alive",
		Long: `sessionguard signs a storefront customer in, stores the token pair on
this machine and keeps it fresh. The password is read from
SESSIONGUARD_PASSWORD only.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           BuildVersion,
		PersistentPreRunE: c.load,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
			}
			return nil
		},
		RunE: func(*cobra.Command, []string) error {
			return fmt.Errorf("%w: a command is required", ErrUsage)
		},
	}

	root.PersistentFlags().AddFlagSet(c.cfg.FlagSet())
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})

	root.AddCommand(
		c.newLoginCmd(),
		c.newStatusCmd(),
		c.newRefreshCmd(),
		c.newLogoutCmd(),
		c.newRunCmd(),
	)

	return root
}

// load layers .env and the environment under the flags given on the
// command line, then builds the logger.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	explicit := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := c.cfg.LoadDotEnv(c.env.Getwd); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	if err := c.cfg.LoadEnv(c.env.Getenv); err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}
	for name, value := range explicit {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("%w: %w", ErrUsage, err)
		}
	}

	c.logger = slogx.New(slogx.Config{
		Service: "sessionguard",
		Version: BuildVersion,
		Env:     c.cfg.Env,
		Level:   c.cfg.LogLevel,
		Format:  c.cfg.LogFormat,
		Output:  cmd.ErrOrStderr(),
	})
	return nil
}

// withAgent builds an agent for one subcommand and closes it afterwards.
func (c *cli) withAgent(cmd *cobra.Command, fn func(ctx context.Context, a *Agent) error) error {
	ctx := slogx.With(slogx.WithContext(cmd.Context(), c.logger), "command", cmd.Name())
	logger := slogx.FromContext(ctx)

	a, err := New(c.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close agent", "error", err)
		}
	}()

	return fn(ctx, a)
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s takes no arguments, got %q", ErrUsage, cmd.Name(), args)
	}
	return nil
}

func (c *cli) newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with --email and SESSIONGUARD_PASSWORD",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withAgent(cmd, func(ctx context.Context, a *Agent) error {
				if err := a.Login(ctx, c.cfg.Email, c.cfg.Password); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.Status(ctx))
			})
		},
	}
}

func (c *cli) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print session, token and device status as JSON",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withAgent(cmd, func(ctx context.Context, a *Agent) error {
				return printJSON(cmd.OutOrStdout(), a.Status(ctx))
			})
		},
	}
}

func (c *cli) newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withAgent(cmd, func(ctx context.Context, a *Agent) error {
				if err := a.Refresh(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.Status(ctx).Tokens)
			})
		},
	}
}

func (c *cli) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear stored tokens",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withAgent(cmd, func(ctx context.Context, a *Agent) error {
				a.Logout(ctx)
				return nil
			})
		},
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the session alive and serve /livez, /status and /metrics",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withAgent(cmd, func(ctx context.Context, a *Agent) error {
				return a.Run(ctx)
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
