package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rehaani/mediconnect/internal/config"
	"github.com/rehaani/mediconnect/internal/logging"
	"github.com/rehaani/mediconnect/internal/ui"
	"github.com/rehaani/mediconnect/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagDomain   string
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    string
	flagUser     string
	flagLogLevel string
	flagLogFile  string

	logCloser io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mediconnect",
	Short: "Video consultations between providers and patients over WebRTC",
	Long: `MediConnect runs one-to-one video consultations. A provider starts a call and
shares the room link, the patient joins it, and media flows directly between
the two over WebRTC. A small signaling store carries the offer, the answer
and ICE candidates.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCloser = logging.Init(logging.Options{Level: flagLogLevel, File: flagLogFile})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// configOptions collects the flags shared by every command.
func configOptions() config.Options {
	return config.Options{
		ConfigPath: flagConfig,
		Domain:     flagDomain,
		Server:     flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		Relay:      flagRelay,
		UserID:     flagUser,
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// An interrupt cancels the command context so a running call hangs up cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/mediconnect/config.toml)")
	pf.StringVar(&flagDomain, "domain", "", "Web app domain used for room links")
	pf.StringVar(&flagServer, "server", "", "Signaling store URL or host")
	pf.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	pf.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.StringVarP(&flagRelay, "relay", "r", "", "Relay policy: auto, always or never")
	pf.StringVar(&flagUser, "user", "", "User id reported to the identity provider")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (default LOG_LEVEL or error)")
	pf.StringVar(&flagLogFile, "log-file", "", "Also write logs to this rotating file")
}
