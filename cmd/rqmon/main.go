package main

import (
	"fmt"
	"os"

	"github.com/UniQw/rqmon"
	cfgpkg "github.com/UniQw/rqmon/internal/config"
	"github.com/UniQw/rqmon/internal/remote"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the state shared by every sub-command once flags are parsed.
type app struct {
	cfg       cfgpkg.Config
	zl        *zap.Logger
	log       rqmon.Logger
	instances *rqmon.Instances
	client    *rqmon.Client
	ctl       *rqmon.Controller
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "rqmon",
		Short: "Monitor and operate Redis job queues",
		Long: "rqmon serves a JSON API over python-rq compatible queues, registries and workers, " +
			"and offers the same operations from the command line.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", os.Getenv(cfgpkg.Prefix+"CONFIG"), "YAML or JSON config file")
	pf.StringArray("redis-url", nil, "Redis URL (redis://, rediss:// or unix://); repeat for several instances")
	pf.String("bind", "", "Address to bind the HTTP server to (default 0.0.0.0)")
	pf.Int("port", 0, "HTTP port (default 8899)")
	pf.String("url-prefix", "", "Path prefix for every route, e.g. /rq")
	pf.Int("refresh-interval", 0, "Dashboard refresh interval in ms (default 2000)")
	pf.Bool("debug", false, "Debug mode: verbose gin output and error chains in responses")
	pf.Bool("verbose", false, "Development logging")

	rootCmd.AddCommand(
		a.serveCommand(),
		a.queuesCommand(),
		a.workersCommand(),
		a.stopWorkerCommand(),
		a.memoryCommand(),
		a.seedCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup layers defaults, the config file, RQ_MONITOR_* variables and explicit flags,
// then dials the configured stores.
func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return err
	}
	cfgpkg.FromEnv(&cfg)

	if flags.Changed("redis-url") {
		cfg.RedisURLs, _ = flags.GetStringArray("redis-url")
	}
	if flags.Changed("bind") {
		cfg.Bind, _ = flags.GetString("bind")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("url-prefix") {
		cfg.URLPrefix, _ = flags.GetString("url-prefix")
	}
	if flags.Changed("refresh-interval") {
		cfg.RefreshIntervalMS, _ = flags.GetInt("refresh-interval")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	if cfg.Verbose || cfg.Debug {
		a.zl, err = zap.NewDevelopment()
	} else {
		a.zl, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	a.log = rqmon.NewZapLogger(a.zl)

	a.instances, err = rqmon.DialInstances(cfg.RedisURLs)
	if err != nil {
		return err
	}
	a.client = rqmon.NewClient(a.instances.Default(), rqmon.WithLogger(a.log))

	resolver, err := remote.NewSSHConfigResolver(cfg.SSH.ConfigFiles...)
	if err != nil {
		return fmt.Errorf("ssh config: %w", err)
	}
	opts := []rqmon.ControllerOption{
		rqmon.WithHostResolver(resolver),
		rqmon.WithRemoteExecutor(remote.NewSSHExecutor(
			remote.WithKnownHosts(cfg.SSH.KnownHosts),
			remote.WithTimeout(cfg.SSHTimeout()),
		)),
	}
	if len(cfg.SSH.LocalHostnames) > 0 {
		opts = append(opts, rqmon.WithLocalHostnames(cfg.SSH.LocalHostnames...))
	}
	a.ctl = rqmon.NewController(a.client, opts...)
	return nil
}

func (a *app) close() {
	if a.instances != nil {
		_ = a.instances.Close()
	}
	if a.zl != nil {
		_ = a.zl.Sync()
	}
}
