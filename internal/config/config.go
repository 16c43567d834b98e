package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/msgcrypt"
	"github.com/petervdpas/goopchat/internal/util"
)

// SecretKeyEnv overrides crypto.secret_key when set.
const SecretKeyEnv = "GOOPCHAT_MESSAGE_SECRET_KEY"

// FileName is the config file inside a profile directory.
const FileName = "goopchat.json"

type Config struct {
	Identity Identity `json:"identity"`
	Relay    Relay    `json:"relay"`
	API      API      `json:"api"`
	Call     Call     `json:"call"`
	Feed     Feed     `json:"feed"`
	Crypto   Crypto   `json:"crypto"`
	Storage  Storage  `json:"storage"`
	Notify   Notify   `json:"notify"`
	Log      Log      `json:"log"`
}

type Identity struct {
	// UserID may be left empty when Token carries it as a claim.
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

type Relay struct {
	URL          string `json:"url"`
	WriteWaitMS  int    `json:"write_wait_ms"`
	PingPeriodMS int    `json:"ping_period_ms"`
}

type API struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type Call struct {
	ICEServers []string `json:"ice_servers"`

	// RingTimeoutSeconds ends unanswered calls. 0 disables it.
	RingTimeoutSeconds int  `json:"ring_timeout_seconds"`
	PreferAudioOnly    bool `json:"prefer_audio_only"`

	// RecordDir, when set, receives a copy of every remote track.
	RecordDir string `json:"record_dir"`
}

type Feed struct {
	TypingIdleMS int `json:"typing_idle_ms"`
	TimelineCap  int `json:"timeline_cap"`
}

type Crypto struct {
	Scheme    string `json:"scheme"` // openssl | secretbox
	SecretKey string `json:"secret_key"`
}

type Storage struct {
	DBPath string `json:"db_path"` // empty disables the local cache
}

type Notify struct {
	Muted bool `json:"muted"`
	Sound bool `json:"sound"`
}

type Log struct {
	Level      string            `json:"level"`
	Subsystems map[string]string `json:"subsystems,omitempty"`
}

func Default() Config {
	return Config{
		Relay: Relay{
			URL:          "ws://127.0.0.1:8788/socket",
			WriteWaitMS:  3000,
			PingPeriodMS: 20000,
		},
		API: API{
			BaseURL:        "http://127.0.0.1:5001/api",
			TimeoutSeconds: 10,
		},
		Call: Call{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		Feed: Feed{
			TypingIdleMS: 2000,
			TimelineCap:  500,
		},
		Crypto: Crypto{
			Scheme:    msgcrypt.SchemeOpenSSL,
			SecretKey: msgcrypt.DefaultKey,
		},
		Storage: Storage{
			DBPath: "data/cache.db",
		},
		Notify: Notify{
			Sound: true,
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Relay
	if err := validateURL(c.Relay.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("relay.url: %w", err)
	}
	if c.Relay.WriteWaitMS <= 0 {
		return errors.New("relay.write_wait_ms must be > 0")
	}
	if c.Relay.PingPeriodMS <= 0 {
		return errors.New("relay.ping_period_ms must be > 0")
	}

	// API
	if err := validateURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.API.TimeoutSeconds < 1 || c.API.TimeoutSeconds > 300 {
		return errors.New("api.timeout_seconds must be 1..300")
	}

	// Call
	if c.Call.RingTimeoutSeconds < 0 {
		return errors.New("call.ring_timeout_seconds must be >= 0")
	}
	for _, s := range c.Call.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("call.ice_servers: %q is not a stun/turn url", s)
		}
	}

	// Feed
	if c.Feed.TypingIdleMS < 100 {
		return errors.New("feed.typing_idle_ms must be >= 100")
	}
	if c.Feed.TimelineCap < 1 {
		return errors.New("feed.timeline_cap must be > 0")
	}

	// Crypto
	switch c.Crypto.Scheme {
	case msgcrypt.SchemeOpenSSL, msgcrypt.SchemeSecretbox:
	default:
		return fmt.Errorf("crypto.scheme must be %s or %s", msgcrypt.SchemeOpenSSL, msgcrypt.SchemeSecretbox)
	}

	// Log
	if err := checkLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for name, lvl := range c.Log.Subsystems {
		if err := checkLevel(lvl); err != nil {
			return fmt.Errorf("log.subsystems.%s: %w", name, err)
		}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	return nil
}

func checkLevel(s string) error {
	if s == "" {
		return nil
	}
	_, err := logging.LevelFromString(s)
	return err
}

// SecretKey is crypto.secret_key unless the environment overrides it.
func (c *Config) SecretKey() string {
	if v := os.Getenv(SecretKeyEnv); v != "" {
		return v
	}
	return c.Crypto.SecretKey
}

func (c *Config) WriteWait() time.Duration {
	return time.Duration(c.Relay.WriteWaitMS) * time.Millisecond
}

func (c *Config) PingPeriod() time.Duration {
	return time.Duration(c.Relay.PingPeriodMS) * time.Millisecond
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.Call.RingTimeoutSeconds) * time.Second
}

func (c *Config) TypingIdle() time.Duration {
	return time.Duration(c.Feed.TypingIdleMS) * time.Millisecond
}

// ApplyLogLevels sets the global level, then the per-subsystem overrides.
func (c *Config) ApplyLogLevels() {
	if c.Log.Level != "" {
		if lvl, err := logging.LevelFromString(c.Log.Level); err == nil {
			logging.SetAllLoggers(lvl)
		}
	}
	for name, lvl := range c.Log.Subsystems {
		if err := logging.SetLogLevel(name, lvl); err != nil {
			log.Warnf("log level %s for [%s]: %s", lvl, name, err)
		}
	}
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(util.StripBOM(b), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
