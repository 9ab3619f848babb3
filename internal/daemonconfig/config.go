// Package daemonconfig loads the daemon's runtime configuration: flags with
// environment-variable overrides, in the teacher's flag-driven Config idiom
// (cmd/resonate-server/main.go's flag.Int/flag.String block feeding a single
// Config struct), generalized to also honor env vars the way the pack's
// ManuGH-xg2g loader does (environment takes precedence over a flag's
// default, never over a flag the caller explicitly set).
package daemonconfig

import (
	"flag"
	"os"
	"strconv"
)

// Config holds every daemon runtime setting. Ports are loopback-only by
// convention (spec.md §6); nothing here binds a non-loopback address.
type Config struct {
	Port             int
	ProxyPort        int
	HTTPPort         int
	StationsPath     string
	StatePath        string
	EngineSocketPath string
	EngineBinary     string
	Debug            bool
}

// Default values, matching spec.md §6's assigned ports.
const (
	defaultPort             = 9876
	defaultProxyPort        = 8990
	defaultHTTPPort         = 8989
	defaultStationsPath     = "stations.toml"
	defaultStatePath        = "state.json"
	defaultEngineSocketPath = "/tmp/raddaemon-mpv.sock"
	defaultEngineBinary     = "mpv"
)

// FromFlags parses args (typically os.Args[1:]) against a fresh FlagSet,
// falling back to environment variables and then to the defaults above.
// Flags always take precedence over environment when both are set, since an
// explicit invocation flag is the most specific signal of intent.
func FromFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("raddaemon", flag.ContinueOnError)

	port := fs.Int("port", envInt("RADDAEMON_PORT", defaultPort), "control protocol TCP port")
	proxyPort := fs.Int("proxy-port", envInt("RADDAEMON_PROXY_PORT", defaultProxyPort), "stream proxy HTTP port")
	httpPort := fs.Int("http-port", envInt("RADDAEMON_HTTP_PORT", defaultHTTPPort), "HTTP control surface port")
	stationsPath := fs.String("stations", envString("RADDAEMON_STATIONS", defaultStationsPath), "path to the station list (.toml, .m3u, or .m3u8)")
	statePath := fs.String("state", envString("RADDAEMON_STATE", defaultStatePath), "path to the persisted playback state file")
	engineSocketPath := fs.String("engine-socket", envString("RADDAEMON_ENGINE_SOCKET", defaultEngineSocketPath), "mpv IPC socket path")
	engineBinary := fs.String("engine-binary", envString("RADDAEMON_ENGINE_BINARY", defaultEngineBinary), "audio engine binary name or path")
	debug := fs.Bool("debug", envBool("RADDAEMON_DEBUG", false), "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return Config{
		Port:             *port,
		ProxyPort:        *proxyPort,
		HTTPPort:         *httpPort,
		StationsPath:     *stationsPath,
		StatePath:        *statePath,
		EngineSocketPath: *engineSocketPath,
		EngineBinary:     *engineBinary,
		Debug:            *debug,
	}, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
