/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	avatar           string
	bind             string
	configFile       string
	connectAttempts  int
	corsOrigins      []string
	livenessInterval time.Duration
	nickname         string
	phaseTimeout     time.Duration
	playbackDir      string
	playerID         string
	port             int
	prefix           string
	profile          bool
	recordFile       string
	retry            time.Duration
	rosterInterval   time.Duration
	server           string
	tlsCert          string
	tlsKey           string
	token            string
	verbose          bool
	version          bool

	log zerolog.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}

	u, err := url.Parse(c.server)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server url: %q", c.server)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server scheme (must be http or https): %q", u.Scheme)
	}

	if c.connectAttempts < 1 {
		return fmt.Errorf("invalid connect attempts (must be at least 1): %d", c.connectAttempts)
	}

	for _, d := range []struct {
		flag  string
		value time.Duration
	}{
		{"--liveness-interval", c.livenessInterval},
		{"--phase-timeout", c.phaseTimeout},
		{"--retry", c.retry},
		{"--roster-interval", c.rosterInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("invalid %s (must be positive): %s", d.flag, d.value)
		}
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindFlags fills every flag the user did not set from viper, which covers
// SONGROOM_* env vars and, once read, the config file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}

		if f.Value.Type() == "stringSlice" {
			_ = fs.Set(f.Name, strings.Join(v.GetStringSlice(f.Name), ","))
			return
		}
		_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
	})
}

func normalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newCmd(cfg *Config) *cobra.Command {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SONGROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "songroom [room-id]",
		Short:         "Joins a music guessing game room and exposes it on a local control page.",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.configFile != "" {
				v.SetConfigFile(cfg.configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				bindFlags(v, cmd.Flags())
			}

			cfg.log = newLogger(cfg)

			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ServePage(cmd.Context(), cfg, args[0])
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.SetNormalizeFunc(normalize)

	pfs.StringVar(&cfg.configFile, "config", "", "path to a config file (env: SONGROOM_CONFIG)")
	pfs.StringVarP(&cfg.server, "server", "s", "http://localhost:3000", "game server base url (env: SONGROOM_SERVER)")
	pfs.StringVarP(&cfg.token, "token", "t", "", "bearer token for the game server (env: SONGROOM_TOKEN)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SONGROOM_VERBOSE)")

	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalize)

	fs.StringVar(&cfg.avatar, "avatar", "", "avatar shown to other players (env: SONGROOM_AVATAR)")
	fs.StringVarP(&cfg.bind, "bind", "b", "127.0.0.1", "address to bind the control page to (env: SONGROOM_BIND)")
	fs.IntVar(&cfg.connectAttempts, "connect-attempts", 3, "websocket dial attempts before giving up (env: SONGROOM_CONNECT_ATTEMPTS)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origin", nil, "origins allowed to call the control page (env: SONGROOM_CORS_ORIGIN)")
	fs.DurationVar(&cfg.livenessInterval, "liveness-interval", 2*time.Second, "how often the connection is checked (env: SONGROOM_LIVENESS_INTERVAL)")
	fs.StringVarP(&cfg.nickname, "nickname", "n", "", "nickname shown to other players (env: SONGROOM_NICKNAME)")
	fs.DurationVar(&cfg.phaseTimeout, "phase-timeout", 45*time.Second, "time without a phase change before a resync is requested (env: SONGROOM_PHASE_TIMEOUT)")
	fs.StringVar(&cfg.playbackDir, "playback-dir", "", "directory to write received recordings to (env: SONGROOM_PLAYBACK_DIR)")
	fs.StringVar(&cfg.playerID, "player-id", "", "participant id, defaults to the token subject (env: SONGROOM_PLAYER_ID)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SONGROOM_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SONGROOM_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SONGROOM_PROFILE)")
	fs.StringVar(&cfg.recordFile, "record-file", "", "audio file submitted on each recording turn (env: SONGROOM_RECORD_FILE)")
	fs.DurationVar(&cfg.retry, "retry", time.Second, "pause between websocket dial attempts (env: SONGROOM_RETRY)")
	fs.DurationVar(&cfg.rosterInterval, "roster-interval", 2*time.Second, "how often the roster is polled (env: SONGROOM_ROSTER_INTERVAL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SONGROOM_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SONGROOM_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SONGROOM_VERSION)")

	cmd.AddCommand(newRoomsCmd(cfg), newRoomCmd(cfg))

	bindFlags(v, pfs)
	bindFlags(v, fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("songroom v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
