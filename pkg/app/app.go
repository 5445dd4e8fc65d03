// Package app builds cobra commands from option groups.
package app

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"
)

// RunFunc runs the application after options were loaded and validated.
type RunFunc func() error

// NamedFlagSetOptions is implemented by the option aggregate of a command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets
	// Complete fills in derived values.
	Complete() error
	// Validate checks the final options.
	Validate() error
}

// App is a command line application.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	args        cobra.PositionalArgs
	commands    []*cobra.Command
	noConfig    bool
	onChange    func(fsnotify.Event)

	configFile string
	cmd        *cobra.Command
}

// Option configures an App.
type Option func(*App)

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithSubCommands adds commands below the application command.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

// WithoutConfigFlag drops the --config flag.
func WithoutConfigFlag() Option {
	return func(a *App) { a.noConfig = true }
}

// WithConfigWatcher calls fn whenever the configuration file changes.
func WithConfigWatcher(fn func(fsnotify.Event)) Option {
	return func(a *App) { a.onChange = fn }
}

// NewApp builds the application command.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc}
	for _, opt := range opts {
		opt(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.AddCommand(a.commands...)
	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	if !a.noConfig {
		a.addConfigFlag(fss.FlagSet("global"))
	}
	globalflag.AddGlobalFlags(fss.FlagSet("global"), cmd.Name())
	for _, f := range fss.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, fss, cols)
	// Subcommands keep cobra's own help instead of the root's flag sections.
	plain := &cobra.Command{}
	for _, sub := range a.commands {
		sub.SetUsageFunc(plain.UsageFunc())
		sub.SetHelpFunc(plain.HelpFunc())
	}
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if a.options != nil {
		if err := a.applyConfig(cmd); err != nil {
			return err
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}
	if a.configFile != "" && a.onChange != nil {
		viper.OnConfigChange(a.onChange)
		viper.WatchConfig()
	}
	return a.runFunc()
}
