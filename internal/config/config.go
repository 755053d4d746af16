package config

import (
	"fmt"
	"time"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Whois     WhoisConfig     `mapstructure:"whois"`
	OpenStack OpenStackConfig `mapstructure:"openstack"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Host      HostConfig      `mapstructure:"host"`
	WinRM     WinRMConfig     `mapstructure:"winrm"`
	PortScan  PortScanConfig  `mapstructure:"portscan"`
	Server    ServerConfig    `mapstructure:"server"`
	Output    OutputConfig    `mapstructure:"output"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// DiscoveryConfig controls how a single discovery run is scheduled.
type DiscoveryConfig struct {
	// Timeout bounds the whole run. Zero means no bound beyond StepTimeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// StepTimeout bounds each adapter or plugin call.
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// Exhaustive keeps querying control-plane plugins after the first match.
	Exhaustive bool     `mapstructure:"exhaustive"`
	Resolvers  []string `mapstructure:"resolvers"`
	// SystemInfo restricts data-plane dispatch to the named plugins.
	SystemInfo []string `mapstructure:"system_info"`
}

type WhoisConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
}

// OpenStackConfig mirrors the OS_* environment convention.
type OpenStackConfig struct {
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TenantName string `mapstructure:"tenant_name"`
	TenantID   string `mapstructure:"tenant_id"`
	AuthURL    string `mapstructure:"auth_url"`
	Region     string `mapstructure:"region"`
	DomainName string `mapstructure:"domain_name"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

type HostConfig struct {
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	KeyDir         string        `mapstructure:"key_dir"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// InsecureIgnoreHostKey skips known_hosts verification.
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`
	KnownHostsFile        string `mapstructure:"known_hosts_file"`
}

type WinRMConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Port     int    `mapstructure:"port"`
	HTTPS    bool   `mapstructure:"https"`
	Insecure bool   `mapstructure:"insecure"`
	NTLM     bool   `mapstructure:"ntlm"`
}

type PortScanConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BinaryPath string        `mapstructure:"binary_path"`
	Ports      string        `mapstructure:"ports"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// APIKey enables bearer-token auth on /v1 routes when set.
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
	// AllowPrivateEndpoints lets API callers point cloud credentials at
	// loopback, private or link-local endpoints.
	AllowPrivateEndpoints bool `mapstructure:"allow_private_endpoints"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
	// Template, when set, replaces the built-in text layout.
	Template string `mapstructure:"template"`
}

var validFormats = map[string]bool{"text": true, "json": true, "yaml": true}

// Validate checks settings that flags and env cannot constrain on their own.
// Credential completeness is checked separately by the credentials package.
func (c *Config) Validate() error {
	if c.Output.Format != "" && !validFormats[c.Output.Format] {
		return fmt.Errorf("unsupported output format %q (want text, json or yaml)", c.Output.Format)
	}
	if c.Discovery.StepTimeout < 0 || c.Discovery.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Whois.RequestsPerSecond < 0 {
		return fmt.Errorf("whois.requests_per_second must not be negative")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "warn",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "satori",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Discovery: DiscoveryConfig{
			Timeout:     5 * time.Minute,
			StepTimeout: 60 * time.Second,
		},
		Whois: WhoisConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 1,
			BurstSize:         2,
		},
		Host: HostConfig{
			Port:           22,
			ConnectTimeout: 10 * time.Second,
		},
		WinRM: WinRMConfig{
			Port: 5985,
		},
		PortScan: PortScanConfig{
			BinaryPath: "nmap",
			Ports:      "1-1024",
			Timeout:    5 * time.Minute,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8080",
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
		Output: OutputConfig{
			Format: "text",
		},
	}
}
