package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rehaani/mediconnect/internal/identity"
)

// Default configuration values (production)
const (
	DefaultDomain      = "consult.mediconnect.app"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
	DefaultRelay       = RelayAuto
	DefaultListen      = ":8080"
	DefaultReturnDelay = 3 * time.Second
)

// Relay policies for ICE.
const (
	RelayAuto   = "auto"
	RelayAlways = "always"
	RelayNever  = "never"
)

// Config holds application configuration
type Config struct {
	// Domain hosts the web app and, unless Server says otherwise, the store.
	Domain string `validate:"required"`

	// ServerURL is the signaling store websocket endpoint.
	ServerURL string `validate:"required,url"`

	// ICE servers for WebRTC
	STUNServer string `validate:"required"`
	TURNServer string
	TURNUser   string
	TURNPass   string
	Relay      string `validate:"oneof=auto always never"`

	UserID string
	Role   string `validate:"omitempty,oneof=provider patient admin"`

	ReturnDelay time.Duration `validate:"gte=0s"`
	WaitTimeout time.Duration `validate:"gte=0s"`

	// Listen is the address `serve` binds.
	Listen string `validate:"required"`

	// Path is the config file that was read, empty if none.
	Path string
}

// Options carries CLI flag values. Empty fields are unset.
type Options struct {
	ConfigPath  string
	Domain      string
	Server      string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	Relay       string
	UserID      string
	Role        string
	ReturnDelay string
	WaitTimeout string
	Listen      string
}

// File is the on-disk TOML layout.
type File struct {
	Domain      string `toml:"domain"`
	Server      string `toml:"server"`
	STUN        string `toml:"stun"`
	TURN        string `toml:"turn"`
	TURNUser    string `toml:"turn_user"`
	TURNPass    string `toml:"turn_pass"`
	Relay       string `toml:"relay"`
	UserID      string `toml:"user_id"`
	Role        string `toml:"role"`
	ReturnDelay string `toml:"return_delay"`
	WaitTimeout string `toml:"wait_timeout"`
	Listen      string `toml:"listen"`
}

var validate = validator.New()

// DefaultPath is $XDG_CONFIG_HOME/mediconnect/config.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mediconnect", "config.toml")
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	path := pick(opts.ConfigPath, os.Getenv("MEDICONNECT_CONFIG"))
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	f, err := readFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		path = ""
	case err != nil:
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	domain := pick(opts.Domain, os.Getenv("DOMAIN"), f.Domain, DefaultDomain)
	cfg := &Config{
		Domain:     domain,
		ServerURL:  serverURL(pick(opts.Server, os.Getenv("SIGNAL_SERVER"), f.Server), domain),
		STUNServer: pick(opts.STUNServer, os.Getenv("STUN_SERVER"), f.STUN, DefaultSTUN),
		TURNServer: pick(opts.TURNServer, os.Getenv("TURN_SERVER"), f.TURN),
		TURNUser:   pick(opts.TURNUser, os.Getenv("TURN_USERNAME"), f.TURNUser),
		TURNPass:   pick(opts.TURNPass, os.Getenv("TURN_PASSWORD"), f.TURNPass),
		Relay:      pick(opts.Relay, os.Getenv("MEDICONNECT_RELAY"), f.Relay, DefaultRelay),
		UserID:     pick(opts.UserID, os.Getenv("MEDICONNECT_USER"), f.UserID),
		Role:       pick(opts.Role, os.Getenv("MEDICONNECT_ROLE"), f.Role),
		Listen:     pick(opts.Listen, os.Getenv("MEDICONNECT_LISTEN"), f.Listen, DefaultListen),
		Path:       path,
	}

	if cfg.ReturnDelay, err = duration(DefaultReturnDelay,
		opts.ReturnDelay, os.Getenv("MEDICONNECT_RETURN_DELAY"), f.ReturnDelay); err != nil {
		return nil, fmt.Errorf("return delay: %w", err)
	}
	if cfg.WaitTimeout, err = duration(0,
		opts.WaitTimeout, os.Getenv("MEDICONNECT_WAIT_TIMEOUT"), f.WaitTimeout); err != nil {
		return nil, fmt.Errorf("wait timeout: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (File, error) {
	var f File
	if path == "" {
		return f, fs.ErrNotExist
	}
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, err
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "file", path, "key", key.String())
	}
	slog.Debug("config file loaded", "file", path)
	return f, nil
}

// pick returns the first non-empty value.
func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func duration(def time.Duration, vals ...string) (time.Duration, error) {
	s := pick(vals...)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// serverURL accepts a full ws(s) URL or a bare host. Without either, the
// store is expected at the app domain.
func serverURL(server, domain string) string {
	if server == "" {
		server = domain
	}
	if strings.Contains(server, "://") {
		return server
	}
	return (&url.URL{Scheme: "wss", Host: server, Path: "/ws"}).String()
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/consult/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. A bare host expands
// to the usual UDP, TCP and TLS endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.HasPrefix(c.TURNServer, "turn:") || strings.HasPrefix(c.TURNServer, "turns:") {
		return []string{c.TURNServer}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// Identity returns the configured user. Role may be overridden per command.
func (c *Config) Identity(role string) (identity.Identity, error) {
	r, err := identity.ParseRole(pick(role, c.Role))
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{ID: c.UserID, Role: r}, nil
}
