package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/EternisAI/silo-tunnel/internal/api/http"
	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/EternisAI/silo-tunnel/internal/notify"
	"github.com/EternisAI/silo-tunnel/internal/provisioner"
	"github.com/EternisAI/silo-tunnel/internal/secrets"
	"github.com/EternisAI/silo-tunnel/internal/sshclient"
	"github.com/EternisAI/silo-tunnel/internal/tunnel"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig
	Http      http.Config
	SSH       SSHConfig
	Provision ProvisionConfig
	Storage   StorageConfig
	Tunnel    TunnelConfig
	Notify    NotifyConfig
}

type SSHConfig struct {
	sshclient.HostKeyConfig `mapstructure:",squash"`

	User    string        `mapstructure:"user"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ProvisionConfig struct {
	provisioner.Options `mapstructure:",squash"`

	DNS string `mapstructure:"dns"`
}

type StorageConfig struct {
	DataDir  string          `mapstructure:"data_dir"`
	Metadata metadata.Config `mapstructure:"metadata"`
	Secrets  secrets.Config  `mapstructure:"secrets"`
}

type TunnelConfig struct {
	tunnel.DriverOptions `mapstructure:",squash"`

	RuntimeDir string `mapstructure:"runtime_dir"`
}

type NotifyConfig struct {
	NatsURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

var config Config

func setDefaults() {
	viper.SetDefault("log.level", LOG_LEVEL_INFO)

	viper.SetDefault("http.host", http.DefaultHost)
	viper.SetDefault("http.port", http.DefaultPort)
	viper.SetDefault("http.admin_api_key", "")

	viper.SetDefault("ssh.user", "dev")
	viper.SetDefault("ssh.port", sshclient.DefaultPort)
	viper.SetDefault("ssh.timeout", sshclient.DefaultTimeout)
	viper.SetDefault("ssh.host_key_policy", sshclient.HostKeyInsecure)
	viper.SetDefault("ssh.known_hosts_file", "~/.silo-tunnel/known_hosts")
	viper.SetDefault("ssh.pinned_host_keys", []string{})

	viper.SetDefault("provision.wan_interface", provisioner.DefaultWANInterface)
	viper.SetDefault("provision.tunnel_interface", provisioner.DefaultTunnelInterface)
	viper.SetDefault("provision.subnet", provisioner.DefaultSubnet)
	viper.SetDefault("provision.listen_port", 51820)
	viper.SetDefault("provision.dns", "")
	viper.SetDefault("provision.use_sudo", true)

	viper.SetDefault("storage.data_dir", "~/.silo-tunnel")
	viper.SetDefault("storage.metadata.driver", metadata.DriverBadger)
	viper.SetDefault("storage.metadata.postgres_url", "")
	viper.SetDefault("storage.metadata.schema", "public")
	viper.SetDefault("storage.secrets.backend", secrets.BackendAuto)

	viper.SetDefault("tunnel.runtime_dir", "")
	viper.SetDefault("tunnel.elevate", tunnel.ElevateAuto)
	viper.SetDefault("tunnel.wireguard_exe", tunnel.DefaultWireGuardExe)

	viper.SetDefault("notify.nats_url", "")
	viper.SetDefault("notify.subject", notify.DefaultSubject)
}

// InitConfig loads application.yaml (optional), .env and the environment.
// A malformed config file is fatal.
func InitConfig(configFile string) {
	_ = godotenv.Load()

	setDefaults()
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("application")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./cmd/silo-tunnel")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("http.admin_api_key", "HTTP_ADMIN_API_KEY", "SILO_TUNNEL_API_KEY")
	_ = viper.BindEnv("storage.metadata.postgres_url", "STORAGE_METADATA_POSTGRES_URL", "DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	if err := resolvePaths(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(redacted(config), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func resolvePaths(cfg *Config) error {
	dataDir, err := homedir.Expand(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to expand data dir: %w", err)
	}
	cfg.Storage.DataDir = dataDir
	cfg.Storage.Metadata.Dir = dataDir
	cfg.Storage.Secrets.Dir = filepath.Join(dataDir, "secrets")

	if cfg.Tunnel.RuntimeDir == "" {
		cfg.Tunnel.RuntimeDir = filepath.Join(dataDir, "run")
	}
	if cfg.Tunnel.RuntimeDir, err = homedir.Expand(cfg.Tunnel.RuntimeDir); err != nil {
		return fmt.Errorf("failed to expand runtime dir: %w", err)
	}
	return nil
}

func redacted(cfg Config) Config {
	if cfg.Http.AdminAPIKey != "" {
		cfg.Http.AdminAPIKey = "<redacted>"
	}
	if cfg.Storage.Metadata.PostgresURL != "" {
		cfg.Storage.Metadata.PostgresURL = "<redacted>"
	}
	return cfg
}
