// Package config 集中 Viper 配置的加载与默认值。
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序: 当前目录 -> 当前目录下的 .gv -> 用户主目录下的 .gv
		viper.AddConfigPath(".")
		viper.AddConfigPath(".gv")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".gv"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 环境变量覆盖 (GV_DATABASE_HOST 等)
	viper.SetEnvPrefix("GV")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// 没有配置文件不算错: 默认值 + 环境变量足够单机使用
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	// 元数据库: 默认用仓库内置 sqlite; 共享部署切 postgres
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// zblob 后端的压缩算法
	viper.SetDefault("storage.complib", "zstd")

	// 摘要存在性缓存 (可选)
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", "24h")

	// 提交作者默认值
	viper.SetDefault("user.name", "")
	viper.SetDefault("user.email", "")

	// 日志级别
	viper.SetDefault("log.level", "info")
}
