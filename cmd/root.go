package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CodeMonkeyCybersecurity/satori/cmd/internal/display"
	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "satori <target>",
	Short: "Discover what a host is and where it runs",
	Long: `Satori resolves a hostname, IP address or URL and reports what it can
learn about it: the address it resolves to, the domain's registrar and
nameservers, the cloud instance that owns the address and, given host
access, what the machine is running and talking to.

Cloud lookups need credentials. OpenStack credentials follow the usual
OS_* environment variables; AWS credentials follow AWS_*. Without any,
satori only reports address and domain facts.

Examples:
  satori www.example.com
  satori -F json https://app.example.com/login
  satori --host-username root --system-info ohai-solo 203.0.113.10
  satori plugins
  satori serve`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runDiscovery(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync errors on stdout/stderr are expected on Linux
			if err := log.Sync(); err != nil && !isStdSyncError(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
			}
		}
	},
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = errors.New("discovery cancelled")
		}
		display.PrintError(os.Stderr, err)
	}
	return err
}

func isStdSyncError(err error) bool {
	msg := err.Error()
	return strings.HasSuffix(msg, "/dev/stdout: invalid argument") ||
		strings.HasSuffix(msg, "/dev/stderr: invalid argument")
}

func init() {
	defaults := config.DefaultConfig()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.satori.yaml)")

	// Logging configuration
	pf.String("log-level", defaults.Logger.Level, "log level (debug, info, warn, error)")
	pf.String("log-format", defaults.Logger.Format, "log format (json, console)")
	bindFlag("log-level", "logger.level", "SATORI_LOG_LEVEL")
	bindFlag("log-format", "logger.format", "SATORI_LOG_FORMAT")
	viper.SetDefault("logger.output_paths", defaults.Logger.OutputPaths)

	// Output
	pf.StringP("format", "F", defaults.Output.Format, "output format (text, json, yaml)")
	pf.String("template", "", "render text output with this Go template file")
	bindFlag("format", "output.format", "SATORI_FORMAT")
	bindFlag("template", "output.template", "SATORI_TEMPLATE")

	// Telemetry
	pf.Bool("telemetry", defaults.Telemetry.Enabled, "export traces over OTLP/HTTP")
	pf.String("telemetry-endpoint", defaults.Telemetry.Endpoint, "OTLP/HTTP collector endpoint")
	bindFlag("telemetry", "telemetry.enabled", "SATORI_TELEMETRY_ENABLED")
	bindFlag("telemetry-endpoint", "telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
	viper.SetDefault("telemetry.exporter_type", defaults.Telemetry.ExporterType)
	viper.SetDefault("telemetry.sample_rate", defaults.Telemetry.SampleRate)

	// Discovery scheduling
	pf.Duration("timeout", defaults.Discovery.Timeout, "bound for the whole run (0 disables)")
	pf.Duration("step-timeout", defaults.Discovery.StepTimeout, "bound for each lookup or plugin call")
	pf.StringSlice("resolver", nil, "DNS resolver to query (repeatable, default from /etc/resolv.conf)")
	bindFlag("timeout", "discovery.timeout", "SATORI_TIMEOUT")
	bindFlag("step-timeout", "discovery.step_timeout", "SATORI_STEP_TIMEOUT")
	bindFlag("resolver", "discovery.resolvers", "SATORI_RESOLVERS")

	// Whois
	viper.SetDefault("whois.timeout", defaults.Whois.Timeout)
	viper.SetDefault("whois.requests_per_second", defaults.Whois.RequestsPerSecond)
	viper.SetDefault("whois.burst_size", defaults.Whois.BurstSize)

	// OpenStack, following the python-novaclient environment names
	pf.String("os-username", "", "OpenStack username")
	pf.String("os-password", "", "OpenStack password")
	pf.String("os-tenant-name", "", "OpenStack tenant (project) name")
	pf.String("os-tenant-id", "", "OpenStack tenant (project) id")
	pf.String("os-auth-url", "", "OpenStack Keystone endpoint")
	pf.String("os-region-name", "", "OpenStack region")
	pf.String("os-domain-name", "", "OpenStack user domain (Keystone v3)")
	bindFlag("os-username", "openstack.username", "OS_USERNAME")
	bindFlag("os-password", "openstack.password", "OS_PASSWORD")
	bindFlag("os-tenant-name", "openstack.tenant_name", "OS_TENANT_NAME", "OS_PROJECT_NAME")
	bindFlag("os-tenant-id", "openstack.tenant_id", "OS_TENANT_ID", "OS_PROJECT_ID")
	bindFlag("os-auth-url", "openstack.auth_url", "OS_AUTH_URL")
	bindFlag("os-region-name", "openstack.region", "OS_REGION_NAME")
	bindFlag("os-domain-name", "openstack.domain_name", "OS_USER_DOMAIN_NAME")

	// AWS
	pf.String("aws-region", "", "AWS region")
	pf.String("aws-profile", "", "AWS shared config profile")
	pf.String("aws-access-key-id", "", "AWS access key id")
	pf.String("aws-secret-access-key", "", "AWS secret access key")
	bindFlag("aws-region", "aws.region", "AWS_REGION", "AWS_DEFAULT_REGION")
	bindFlag("aws-profile", "aws.profile", "AWS_PROFILE")
	bindFlag("aws-access-key-id", "aws.access_key_id", "AWS_ACCESS_KEY_ID")
	bindFlag("aws-secret-access-key", "aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("aws.session_token", "AWS_SESSION_TOKEN")

	// Host access over SSH
	pf.String("host-username", "", "SSH username for data-plane plugins")
	pf.String("host-password", "", "SSH password")
	pf.String("host-key", "", "SSH private key file")
	pf.Int("host-port", defaults.Host.Port, "SSH port")
	pf.String("key-dir", "", "directory holding <key_name> private keys for cloud instances")
	pf.Bool("insecure-host-key", false, "skip known_hosts verification")
	pf.String("known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	bindFlag("host-username", "host.username", "SATORI_HOST_USERNAME")
	bindFlag("host-password", "host.password", "SATORI_HOST_PASSWORD")
	bindFlag("host-key", "host.private_key_file", "SATORI_HOST_KEY")
	bindFlag("host-port", "host.port", "SATORI_HOST_PORT")
	bindFlag("key-dir", "host.key_dir", "SATORI_KEY_DIR")
	bindFlag("insecure-host-key", "host.insecure_ignore_host_key", "SATORI_INSECURE_HOST_KEY")
	bindFlag("known-hosts", "host.known_hosts_file", "SATORI_KNOWN_HOSTS")
	viper.SetDefault("host.connect_timeout", defaults.Host.ConnectTimeout)

	// Host access over WinRM
	pf.String("winrm-username", "", "WinRM username for Windows hosts")
	pf.String("winrm-password", "", "WinRM password")
	pf.Int("winrm-port", defaults.WinRM.Port, "WinRM port")
	pf.Bool("winrm-https", false, "use HTTPS for WinRM")
	pf.Bool("winrm-insecure", false, "skip WinRM TLS verification")
	pf.Bool("winrm-ntlm", false, "authenticate to WinRM with NTLM")
	bindFlag("winrm-username", "winrm.username", "SATORI_WINRM_USERNAME")
	bindFlag("winrm-password", "winrm.password", "SATORI_WINRM_PASSWORD")
	bindFlag("winrm-port", "winrm.port", "SATORI_WINRM_PORT")
	bindFlag("winrm-https", "winrm.https", "SATORI_WINRM_HTTPS")
	bindFlag("winrm-insecure", "winrm.insecure", "SATORI_WINRM_INSECURE")
	bindFlag("winrm-ntlm", "winrm.ntlm", "SATORI_WINRM_NTLM")

	// Data plane
	pf.StringSlice("system-info", nil, "data-plane plugins to run (ohai-solo, posh-ohai, portscan)")
	pf.Bool("exhaustive", false, "query every control-plane plugin and list other candidates")
	pf.Bool("port-scan", defaults.PortScan.Enabled, "scan the matched host with nmap")
	pf.String("nmap-path", defaults.PortScan.BinaryPath, "nmap binary")
	pf.String("ports", defaults.PortScan.Ports, "ports to scan")
	bindFlag("system-info", "discovery.system_info", "SATORI_SYSTEM_INFO")
	bindFlag("exhaustive", "discovery.exhaustive", "SATORI_EXHAUSTIVE")
	bindFlag("port-scan", "portscan.enabled", "SATORI_PORT_SCAN")
	bindFlag("nmap-path", "portscan.binary_path", "SATORI_NMAP_PATH")
	bindFlag("ports", "portscan.ports", "SATORI_PORTS")
	viper.SetDefault("portscan.timeout", defaults.PortScan.Timeout)

	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".satori")
	}

	viper.SetEnvPrefix("SATORI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit --config must exist; the default lookup is optional.
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg = config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg.Validate()
}

// bindFlag ties a persistent flag to a config key and its environment
// variables. Flags win over env, env over the config file.
func bindFlag(name, key string, envs ...string) {
	_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name))
	_ = viper.BindEnv(append([]string{key}, envs...)...)
}
