package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rehaani/mediconnect/internal/call"
	"github.com/rehaani/mediconnect/internal/identity"
	"github.com/rehaani/mediconnect/internal/ui"
	"github.com/spf13/cobra"
)

var joinFlags callFlags

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join a consultation started by a provider",
	Long: `Join a consultation as the patient using the room id or link the provider shared.

Examples:
  mediconnect join Ab3dE9x
  mediconnect join https://consult.mediconnect.app/consult/Ab3dE9x
  mediconnect join Ab3dE9x --audio-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinCall(cmd.Context(), roomID)
	},
}

func joinCall(ctx context.Context, roomID string) error {
	cfg, err := LoadConfig(joinFlags.options())
	if err != nil {
		return err
	}
	id, err := resolveIdentity(cfg, identity.Patient, call.RoleAnswerer)
	if err != nil {
		return err
	}
	src, err := mediaSource(joinFlags.media)
	if err != nil {
		return err
	}

	fmt.Println()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := newSession(cfg, id, client, src, &joinFlags)
	if err != nil {
		return err
	}

	sp := ui.NewWaitingSpinner(fmt.Sprintf("Joining room %s...", roomID)).Start()
	if err := sess.JoinCall(ctx, roomID); err != nil {
		sp.Stop()
		return callFailure(err)
	}
	sp.Success(fmt.Sprintf("Joined room %s", roomID))

	return runCall(ctx, sess, cfg)
}

func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, ".") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room ID: %s", roomID)
		return roomID, nil
	}

	return input, nil
}

// extractRoomIDFromURL finds the id after a /consult/ (or legacy /r/)
// segment. Links without a scheme are accepted too.
func extractRoomIDFromURL(urlStr string) (string, error) {
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", call.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if (part == "consult" || part == "r") && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addCallFlags(joinCmd, &joinFlags)
}
