package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rehaani/mediconnect/internal/call"
	"github.com/rehaani/mediconnect/internal/config"
	"github.com/rehaani/mediconnect/internal/identity"
	"github.com/rehaani/mediconnect/internal/media"
	"github.com/rehaani/mediconnect/internal/peer"
	"github.com/rehaani/mediconnect/internal/rtdb"
	"github.com/rehaani/mediconnect/internal/ui"
)

const dialTimeout = 15 * time.Second

// Media source names accepted by --media.
const (
	mediaAuto      = "auto"
	mediaDevice    = "device"
	mediaSynthetic = "synthetic"
)

// callFlags are the flags shared by start and join.
type callFlags struct {
	media       string
	audioOnly   bool
	returnDelay string
	waitTimeout string
}

func (f *callFlags) options() config.Options {
	opts := configOptions()
	opts.ReturnDelay = f.returnDelay
	opts.WaitTimeout = f.waitTimeout
	return opts
}

func (f *callFlags) constraints() media.Constraints {
	return media.Constraints{Audio: true, Video: !f.audioOnly}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, call.NewError("load config", err)
	}

	if cfg.Relay == config.RelayAlways && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// resolveIdentity picks the user for a command. want is used when no role
// is configured; a configured role must map to the expected call side.
func resolveIdentity(cfg *config.Config, want identity.Role, side call.Role) (identity.Identity, error) {
	role := cfg.Role
	if role == "" {
		role = string(want)
	}
	id, err := cfg.Identity(role)
	if err != nil {
		return identity.Identity{}, err
	}
	got, err := id.CallRole()
	if err != nil {
		return identity.Identity{}, err
	}
	if got != side {
		return identity.Identity{}, fmt.Errorf("a %s cannot do this; providers start consultations and patients join them", id.Role)
	}
	return id, nil
}

func iceConfig(cfg *config.Config) peer.ICEConfig {
	user, pass := cfg.GetTURNCredentials()
	return peer.ICEConfig{
		STUN:       cfg.GetSTUNServers(),
		TURN:       cfg.GetTURNServers(),
		TURNUser:   user,
		TURNPass:   pass,
		ForceRelay: cfg.Relay == config.RelayAlways,
		AutoRelay:  cfg.Relay == config.RelayAuto,
	}
}

// mediaSource picks the capture source. auto prefers real devices and falls
// back to the synthetic source when none are available.
func mediaSource(kind string) (media.Source, error) {
	switch kind {
	case mediaSynthetic:
		return media.Synthetic{}, nil
	case mediaDevice, mediaAuto, "":
		src, err := media.NewDeviceSource()
		if err == nil {
			return src, nil
		}
		if kind == mediaDevice {
			return nil, call.WrapError("open devices", call.ErrMediaAccessDenied, err.Error())
		}
		slog.Info("no capture devices, using synthetic media", "err", err)
		ui.PrintWarning("No camera available, sending a test stream instead")
		return media.Synthetic{}, nil
	default:
		return nil, fmt.Errorf("unknown media source %q (want auto, device or synthetic)", kind)
	}
}

// peerFactory builds connections with the source's codecs when it has any.
func peerFactory(ice peer.ICEConfig, src media.Source) call.PeerFactory {
	var codecs media.CodecConfigurer
	if c, ok := src.(media.CodecConfigurer); ok {
		codecs = c
	}
	return func() (call.PeerConn, error) {
		return peer.New(ice, codecs)
	}
}

// connect dials the signaling store behind a spinner.
func connect(ctx context.Context, cfg *config.Config) (*rtdb.Client, error) {
	sp := ui.NewConnectionSpinner("Connecting to the consultation service...").Start()
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := rtdb.Dial(dctx, cfg.ServerURL)
	if err != nil {
		sp.Error("Could not reach the consultation service")
		return nil, call.WrapError("connect to server", call.ErrSignalingChannel, err.Error())
	}
	sp.Stop()
	slog.Info("connected to signaling store", "url", cfg.ServerURL)
	return client, nil
}

func newSession(cfg *config.Config, id identity.Identity, store rtdb.Store, src media.Source, f *callFlags) (*call.Session, error) {
	side, err := id.CallRole()
	if err != nil {
		return nil, err
	}
	return call.New(call.Options{
		Role:        side,
		Store:       store,
		Media:       src,
		NewPeer:     peerFactory(iceConfig(cfg), src),
		Constraints: f.constraints(),
		ReturnDelay: cfg.ReturnDelay,
		WaitTimeout: cfg.WaitTimeout,
		Landing:     id.Landing(),
	})
}

// runCall shows the live call view until the call is over, then prints the
// summary.
func runCall(ctx context.Context, sess *call.Session, cfg *config.Config) error {
	id := sess.RoomID()
	model := ui.NewCallModel(sess, sess.Events(), sess.Role(), sess.State()).
		WithRoom(id, cfg.GetRoomLink(id))

	stop := context.AfterFunc(ctx, sess.HangUp)
	defer stop()

	landing, err := ui.RunCallView(model)
	sess.HangUp()
	sess.Wait()

	fmt.Println()
	ui.RenderCallSummary(sess.Summary())
	if landing != "" {
		ui.PrintInfof("Returning to %s", landing)
	}
	return err
}

// callFailure turns a setup error into the message shown to the user.
func callFailure(err error) error {
	var ce *call.Error
	if errors.As(err, &ce) {
		slog.Info("call setup failed", "op", ce.Op, "err", ce.Err, "details", ce.Details)
		return errors.New(call.UserMessage(err))
	}
	return err
}
