package cmd

import (
	"context"
	"fmt"

	"github.com/rehaani/mediconnect/internal/call"
	"github.com/rehaani/mediconnect/internal/identity"
	"github.com/rehaani/mediconnect/internal/ui"
	"github.com/spf13/cobra"
)

var startFlags callFlags

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"s"},
	Short:   "Start a consultation and share its link",
	Long: `Start a consultation as the provider. A room is created, the link is printed
for the patient, and the call view waits for them to join.

Examples:
  mediconnect start
  mediconnect start --media synthetic --wait-timeout 10m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCall(cmd.Context())
	},
}

func startCall(ctx context.Context) error {
	cfg, err := LoadConfig(startFlags.options())
	if err != nil {
		return err
	}
	id, err := resolveIdentity(cfg, identity.Provider, call.RoleOfferer)
	if err != nil {
		return err
	}
	src, err := mediaSource(startFlags.media)
	if err != nil {
		return err
	}

	fmt.Println()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := newSession(cfg, id, client, src, &startFlags)
	if err != nil {
		return err
	}

	sp := ui.NewSpinner("Creating consultation room...").Start()
	roomID, err := sess.StartCall(ctx)
	if err != nil {
		sp.Stop()
		sess.Wait()
		return callFailure(err)
	}
	sp.Stop()

	fmt.Println(ui.NewRoomInfo(roomID, cfg.GetRoomLink(roomID)).View())
	fmt.Println()
	return runCall(ctx, sess, cfg)
}

func addCallFlags(cmd *cobra.Command, f *callFlags) {
	cmd.Flags().StringVarP(&f.media, "media", "m", mediaAuto, "Media source: auto, device or synthetic")
	cmd.Flags().BoolVarP(&f.audioOnly, "audio-only", "a", false, "Send audio without video")
	cmd.Flags().StringVar(&f.returnDelay, "return-delay", "", "How long the ended call stays on screen (e.g. 3s)")
	cmd.Flags().StringVarP(&f.waitTimeout, "wait-timeout", "w", "", "End the call if nobody connects within this time (e.g. 10m)")
}

func init() {
	rootCmd.AddCommand(startCmd)
	addCallFlags(startCmd, &startFlags)
}
