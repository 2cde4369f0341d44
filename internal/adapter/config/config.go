// Package config loads the bridge configuration: service settings from
// viper (file plus environment) and the polled-point list from a YAML
// file.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nexus-edge/plc-link/internal/hwsock"
)

// Config holds all runtime configuration of the bridge.
type Config struct {
	// Environment is the deployment environment (development, production)
	Environment string `mapstructure:"environment"`

	// PointsConfigPath is the path to the polled-point definitions file
	PointsConfigPath string `mapstructure:"points_config_path"`

	Network NetworkConfig `mapstructure:"network"`
	PLC     PLCConfig     `mapstructure:"plc"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Polling PollingConfig `mapstructure:"polling"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// NetworkConfig selects the hardware-socket transport and the addressing
// programmed into it. The host-stack driver ignores addressing it does
// not own; chip drivers program all of it.
type NetworkConfig struct {
	Driver     string `mapstructure:"driver"`
	MAC        string `mapstructure:"mac"`
	LocalIP    string `mapstructure:"local_ip"`
	SubnetMask string `mapstructure:"subnet_mask"`
	Gateway    string `mapstructure:"gateway"`
}

// PLCConfig holds the Modbus session settings.
type PLCConfig struct {
	IP              string        `mapstructure:"ip"`
	Port            uint16        `mapstructure:"port"`
	UnitID          uint8         `mapstructure:"unit_id"`
	LocalPort       uint16        `mapstructure:"local_port"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	AutoReconnect   bool          `mapstructure:"auto_reconnect"`
	ForceARP        bool          `mapstructure:"force_arp"`
}

// Addr parses the configured PLC address.
func (p PLCConfig) Addr() (netip.Addr, error) {
	return netip.ParseAddr(p.IP)
}

// Transport builds the driver addressing from the network section. Unset
// fields stay zero; drivers that need them reject the config themselves.
func (n NetworkConfig) Transport() (hwsock.NetworkConfig, error) {
	var cfg hwsock.NetworkConfig

	if n.MAC != "" {
		hw, err := net.ParseMAC(n.MAC)
		if err != nil || len(hw) != 6 {
			return cfg, fmt.Errorf("invalid network.mac %q", n.MAC)
		}
		copy(cfg.MAC[:], hw)
	}
	for _, f := range []struct {
		name  string
		value string
		dst   *netip.Addr
	}{
		{"network.local_ip", n.LocalIP, &cfg.LocalIP},
		{"network.subnet_mask", n.SubnetMask, &cfg.SubnetMask},
		{"network.gateway", n.Gateway, &cfg.Gateway},
	} {
		if f.value == "" {
			continue
		}
		addr, err := netip.ParseAddr(f.value)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		*f.dst = addr
	}
	return cfg, nil
}

// MQTTConfig holds MQTT client configuration.
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	TLSCertFile    string        `mapstructure:"tls_cert_file"`
	TLSKeyFile     string        `mapstructure:"tls_key_file"`
	TLSCAFile      string        `mapstructure:"tls_ca_file"`
	BufferSize     int           `mapstructure:"buffer_size"`
	CommandsOn     bool          `mapstructure:"commands_enabled"`
	CommandAcks    bool          `mapstructure:"command_acks"`
}

// PollingConfig holds the poll loop configuration.
type PollingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Enabled  bool          `mapstructure:"enabled"`
}

// HTTPConfig holds the status/metrics server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Load reads configuration from config.yaml and PLCLINK_-prefixed
// environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/plc-link")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and environment carry the load.
	}

	v.SetEnvPrefix("PLCLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("points_config_path", "./config/points.yaml")

	// Transport
	v.SetDefault("network.driver", "net")

	// PLC session; the 500ms/10-retry profile is the industrial default.
	v.SetDefault("plc.ip", "192.168.123.10")
	v.SetDefault("plc.port", 502)
	v.SetDefault("plc.unit_id", 1)
	v.SetDefault("plc.local_port", 0)
	v.SetDefault("plc.response_timeout", 500*time.Millisecond)
	v.SetDefault("plc.connect_timeout", 10*time.Second)
	v.SetDefault("plc.retry_count", 10)
	v.SetDefault("plc.retry_interval", 500*time.Millisecond)
	v.SetDefault("plc.auto_reconnect", true)
	v.SetDefault("plc.force_arp", false)

	// MQTT
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "plc-link")
	v.SetDefault("mqtt.topic_prefix", "plclink")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)
	v.SetDefault("mqtt.buffer_size", 10000)
	v.SetDefault("mqtt.commands_enabled", true)
	v.SetDefault("mqtt.command_acks", true)

	// Polling
	v.SetDefault("polling.interval", time.Second)
	v.SetDefault("polling.enabled", true)

	// HTTP
	v.SetDefault("http.port", 9090)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("points_config_path", "POINTS_CONFIG_PATH")

	_ = v.BindEnv("plc.ip", "PLC_IP")
	_ = v.BindEnv("plc.port", "PLC_PORT")
	_ = v.BindEnv("plc.unit_id", "PLC_UNIT_ID")

	_ = v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.client_id", "MQTT_CLIENT_ID")

	_ = v.BindEnv("http.port", "HTTP_PORT")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks for settings that would fail at wiring time.
func (c *Config) Validate() error {
	if c.Network.Driver == "" {
		return fmt.Errorf("network driver is required")
	}
	if _, err := c.PLC.Addr(); err != nil {
		return fmt.Errorf("invalid plc.ip %q: %w", c.PLC.IP, err)
	}
	if c.PLC.Port == 0 {
		return fmt.Errorf("plc.port must be nonzero")
	}
	if c.PLC.UnitID == 0 {
		return fmt.Errorf("plc.unit_id must be nonzero")
	}
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT broker URL is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid MQTT QoS: %d", c.MQTT.QoS)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	return nil
}
