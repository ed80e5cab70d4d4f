package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct
type Config struct {
	Node     NodeConfig     `mapstructure:"node"`
	Radio    RadioConfig    `mapstructure:"radio"`
	OTA      OTAConfig      `mapstructure:"ota"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Uplink   UplinkConfig   `mapstructure:"uplink"`
	API      APIConfig      `mapstructure:"api"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// NodeConfig holds per-node configuration
type NodeConfig struct {
	Role      string `mapstructure:"role"`
	StatePath string `mapstructure:"statePath"`
	CodePath  string `mapstructure:"codePath"`
}

// RadioConfig holds the air interface and listen-window settings
type RadioConfig struct {
	NetworkKey        string        `mapstructure:"networkKey"`
	ListenWindow      time.Duration `mapstructure:"listenWindow"`
	ListenThresholdMV uint16        `mapstructure:"listenThresholdMV"`
	ReceiveTimeout    time.Duration `mapstructure:"receiveTimeout"`
}

// OTAConfig holds firmware broadcast settings
type OTAConfig struct {
	BlockSize    int    `mapstructure:"blockSize"`
	SinglePass   bool   `mapstructure:"singlePass"`
	ImagePath    string `mapstructure:"imagePath"`
	ManifestPath string `mapstructure:"manifestPath"`
}

// CacheConfig holds the gateway edge cache and flush policy
type CacheConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	FlushMargin   int           `mapstructure:"flushMargin"`
	FlushInterval time.Duration `mapstructure:"flushInterval"`
	BatchSize     int           `mapstructure:"batchSize"`
}

// UplinkConfig holds the backend transport settings
type UplinkConfig struct {
	URL      string        `mapstructure:"url"`
	Attempts uint          `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"maxDelay"`
}

// APIConfig holds the gateway status API settings
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// ScheduleConfig holds scheduler interval settings
type ScheduleConfig struct {
	Tick         time.Duration `mapstructure:"tick"`
	StatusReport time.Duration `mapstructure:"statusReport"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("silken")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	// Defaults matching the deployed firmware constants
	v.SetDefault("node.role", "leaf")
	v.SetDefault("node.statePath", "./data/state")
	v.SetDefault("node.codePath", "./data/firmware.bin")
	v.SetDefault("radio.networkKey", "2B7E151628AED2A6ABF7158809CF4F3C1A2B3C4D5E6F7A8B9C0D1E2F3A4B5C6D")
	v.SetDefault("radio.listenWindow", 500*time.Millisecond)
	v.SetDefault("radio.listenThresholdMV", 2800)
	v.SetDefault("radio.receiveTimeout", time.Second)
	v.SetDefault("ota.blockSize", 16)
	v.SetDefault("ota.singlePass", false)
	v.SetDefault("ota.imagePath", "")
	v.SetDefault("ota.manifestPath", "")
	v.SetDefault("cache.capacity", 50)
	v.SetDefault("cache.flushMargin", 5)
	v.SetDefault("cache.flushInterval", time.Hour)
	v.SetDefault("cache.batchSize", 2048)
	v.SetDefault("uplink.url", "")
	v.SetDefault("uplink.attempts", 3)
	v.SetDefault("uplink.delay", time.Second)
	v.SetDefault("uplink.maxDelay", 30*time.Second)
	v.SetDefault("api.addr", "")
	v.SetDefault("schedule.tick", 60*time.Second)
	v.SetDefault("schedule.statusReport", 5*time.Minute)
}
