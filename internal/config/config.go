// Package config loads the aggregator's flat key=value configuration file.
//
// The format is intentionally not TOML/YAML: it is the same bare grammar
// the original C daemon parsed by hand with strchr, so this reader is a
// direct translation of that loop rather than a library-backed parser.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults matching the original daemon's DEFAULT_* constants.
const (
	DefaultDNSRefreshInterval            = 60 * time.Second
	DefaultDownstreamHealthCheckInterval = 1 * time.Second
	DefaultLogLevel                      = 0
)

// Config holds everything the aggregator needs to start, after validation.
type Config struct {
	DataPort int

	Downstream     string // raw "host:port" as given in the file
	DownstreamHost string
	DownstreamPort int

	DownstreamFlushInterval       time.Duration
	DNSRefreshInterval            time.Duration
	DownstreamHealthCheckInterval time.Duration

	LogLevel int

	// MetricsListenAddress is optional; when empty the internal metrics
	// HTTP surface is not started.
	MetricsListenAddress string
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg := &Config{
		DNSRefreshInterval:            DefaultDNSRefreshInterval,
		DownstreamHealthCheckInterval: DefaultDownstreamHealthCheckInterval,
		LogLevel:                      DefaultLogLevel,
	}

	var (
		sawDataPort   bool
		sawDownstream bool
		failures      int
	)

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			fmt.Fprintf(os.Stderr, "config line %d: missing '=': %q\n", lineNum, line)
			failures++
			continue
		}
		switch key {
		case "data_port":
			n, err := strconv.Atoi(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config line %d: bad data_port %q: %v\n", lineNum, value, err)
				failures++
				continue
			}
			cfg.DataPort = n
			sawDataPort = true
		case "downstream":
			host, port, err := splitHostPort(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config line %d: bad downstream %q: %v\n", lineNum, value, err)
				failures++
				continue
			}
			cfg.Downstream = value
			cfg.DownstreamHost = host
			cfg.DownstreamPort = port
			sawDownstream = true
		case "downstream_flush_interval":
			d, err := parseSecondsFloat(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config line %d: bad downstream_flush_interval %q: %v\n", lineNum, value, err)
				failures++
				continue
			}
			cfg.DownstreamFlushInterval = d
		case "dns_refresh_interval":
			n, err := strconv.Atoi(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config line %d: bad dns_refresh_interval %q: %v\n", lineNum, value, err)
				failures++
				continue
			}
			cfg.DNSRefreshInterval = time.Duration(n) * time.Second
		case "downstream_health_check_interval":
			d, err := parseSecondsFloat(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config line %d: bad downstream_health_check_interval %q: %v\n", lineNum, value, err)
				failures++
				continue
			}
			cfg.DownstreamHealthCheckInterval = d
		case "log_level":
			n, err := strconv.Atoi(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config line %d: bad log_level %q: %v\n", lineNum, value, err)
				failures++
				continue
			}
			cfg.LogLevel = n
		case "metrics_listen_address":
			cfg.MetricsListenAddress = value
		default:
			fmt.Fprintf(os.Stderr, "config line %d: unknown parameter %q\n", lineNum, key)
			failures++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if !sawDataPort {
		failures++
		fmt.Fprintln(os.Stderr, "config: missing required parameter \"data_port\"")
	}
	if !sawDownstream {
		failures++
		fmt.Fprintln(os.Stderr, "config: missing required parameter \"downstream\"")
	}
	if cfg.DownstreamFlushInterval <= 0 {
		failures++
		fmt.Fprintln(os.Stderr, "config: \"downstream_flush_interval\" must be set to a positive number of seconds")
	}

	if failures > 0 {
		return nil, fmt.Errorf("failed to load config file: %d error(s)", failures)
	}
	return cfg, nil
}

func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func splitHostPort(hostport string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", p, err)
	}
	return h, n, nil
}

func parseSecondsFloat(value string) (time.Duration, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return time.Duration(f * float64(time.Second)), nil
}
