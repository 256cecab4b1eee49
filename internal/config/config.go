package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "quantsim"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", 8085)
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("trading.commission_rate", 0.0003)
	v.SetDefault("trading.initial_balance", 1000000.00)

	v.SetDefault("strategy.default_short_period", 5)
	v.SetDefault("strategy.default_long_period", 20)
	v.SetDefault("strategy.batch_concurrency", 4)

	v.SetDefault("pricing.base_url", "http://localhost:8082/stock-service/api/v1")
	v.SetDefault("pricing.timeout", "3s")
	v.SetDefault("pricing.history_days", 60)
	v.SetDefault("pricing.default_base_price", 10.0)
	v.SetDefault("pricing.base_prices", map[string]float64{
		"000001.SZ": 11.40,
		"000002.SZ": 18.20,
		"600036.SH": 35.80,
		"600519.SH": 1680.00,
		"000858.SZ": 128.50,
		"002415.SZ": 32.15,
	})

	v.SetDefault("database.path", "data/quant_sim.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
