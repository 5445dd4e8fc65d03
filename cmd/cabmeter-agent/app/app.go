package app

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/cabmeter/cmd/cabmeter-agent/app/options"
	"github.com/autopeer-io/cabmeter/pkg/app"
	"github.com/autopeer-io/cabmeter/pkg/log"
)

const (
	commandName = "cabmeter-agent"
	commandDesc = `The cabmeter agent drives the taxi meter measuring board over its serial link.

It keeps the current trip, relays driver operations to the board, enforces the
overspeed lock, reconciles trips with the cloud ledger over MQTT and serves a
local status API.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the cabmeter agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithSubCommands(newHistoryCommand(), newFrameCommand()),
		app.WithConfigWatcher(onConfigChange),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}

// onConfigChange applies the log level live. Everything else is read once at start.
func onConfigChange(e fsnotify.Event) {
	level := viper.GetString("log.level")
	if level == "" || level == log.Level() {
		log.Info("Config file changed, restart to apply", "file", e.Name)
		return
	}
	if err := log.SetLevel(level); err != nil {
		log.Error(err, "Ignoring log level from config file", "file", e.Name)
		return
	}
	log.Info("Log level changed", "level", level, "file", e.Name)
}
