package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emergingrobotics/go-vkil/pkg/config"
	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
	"github.com/emergingrobotics/go-vkil/pkg/session"
	"github.com/emergingrobotics/go-vkil/pkg/vkil"
	"github.com/emergingrobotics/go-vkil/pkg/vksim"
)

// Version information (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

// simDevicePath names the in-process card in --sim mode
const simDevicePath = "sim0"

type options struct {
	configPath string
	device     string
	logLevel   string
	sim        bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "vkil",
		Short:         "Accelerator card interface CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&opts.device, "device", "d", "", "Card index or device path")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (panic, err, warn, info, dbg)")
	flags.BoolVar(&opts.sim, "sim", false, "Use an in-process simulated card")

	cmd.AddCommand(
		newScanCommand(opts),
		newInfoCommand(opts),
		newSessionsCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// loadConfig applies the command line overrides on top of the
// configuration file, or the defaults when there is none
func (o *options) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.device != "" {
		if err := cfg.SetAffinity(o.device); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		if err := cfg.SetLogLevel(o.logLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (o *options) newAPI(cfg *config.Config) (*vkil.API, error) {
	if !o.sim {
		return vkil.New(cfg)
	}
	card := vksim.New()
	return vkil.New(cfg,
		vkil.WithTransportOpener(card.Opener()),
		vkil.WithSessionResolver(session.StaticResolver{Session: session.Session{DevicePath: simDevicePath}}))
}

func newScanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan for accelerator cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts.sim {
				fmt.Fprintf(out, "Found 1 card(s):\n  [0] %s (simulated)\n", simDevicePath)
				return nil
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			devices := driver.ScanDevices(cfg.Device.DevRoot)
			if len(devices) == 0 {
				fmt.Fprintln(out, "No cards found")
				return nil
			}
			fmt.Fprintf(out, "Found %d card(s):\n", len(devices))
			for i, dev := range devices {
				fmt.Fprintf(out, "  [%d] %s\n", i, dev)
			}
			return nil
		},
	}
}

func newInfoCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show card status through an info context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			api, err := opts.newAPI(cfg)
			if err != nil {
				return err
			}
			defer api.Close()

			c, err := api.Init(nil)
			if err != nil {
				return err
			}
			c.Role = message.RoleInfo
			if _, err := api.Init(c); err != nil {
				return fmt.Errorf("failed to open info context: %w", err)
			}
			defer api.Deinit(c)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Card: %s\n", c.Device().Path())
			fmt.Fprintf(out, "  Context: 0x%x\n", c.Handle())
			fmt.Fprintf(out, "  Processing priority: %d\n", api.ProcessingPriority())
			for _, p := range []message.Parameter{
				message.ParamTemperature,
				message.ParamPowerState,
				message.ParamAvailableLoad,
			} {
				v, err := api.GetParameterUint32(c, p, message.OptBlocking)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", p, err)
				}
				fmt.Fprintf(out, "  %s: %d\n", p, v)
			}
			return nil
		},
	}
}

func newSessionsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List the process sessions recorded on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			table := session.NewTableResolver(cfg)
			entries, err := table.Entries()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No sessions in %s\n", table.Path())
				return nil
			}
			fmt.Fprintf(out, "%-8s %-8s %s\n", "PID", "SESSION", "CARD")
			for _, e := range entries {
				fmt.Fprintf(out, "%-8d %-8d %d\n", e.PID, e.SessionID, e.CardID)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vkil version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Go version: %s\n", GoVersion)
		},
	}
}
