// Package app 是依赖容器：把 Viper 配置翻译成组装好的仓库实例。
// CLI 命令只和这里打交道，不自己 new 子系统。
package app

import (
	"context"
	"os"
	"time"

	"gridvault/pkg/backend/s3be"
	"gridvault/pkg/cas/cache"
	"gridvault/pkg/meta"
	"gridvault/pkg/repo"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// App 持有打开的仓库与全局服务
type App struct {
	Repo   *repo.Repo
	Logger *log.Logger
}

// NewLogger 按配置构造结构化 logger
func NewLogger() *log.Logger {
	logger := log.New(os.Stderr)
	if lvl, err := log.ParseLevel(viper.GetString("log.level")); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// optionsFromConfig 把 Viper 配置翻译成 repo.Options
func optionsFromConfig(logger *log.Logger) repo.Options {
	opts := repo.Options{
		Complib: viper.GetString("storage.complib"),
		Logger:  logger,
	}

	if viper.GetString("database.driver") == "postgres" {
		opts.Meta = &meta.Config{
			Driver:   "postgres",
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		}
	}

	if url := viper.GetString("cache.redis_url"); url != "" {
		ttl, err := time.ParseDuration(viper.GetString("cache.ttl"))
		if err != nil {
			ttl = 24 * time.Hour
		}
		opts.Redis = &cache.Config{RedisURL: url, TTL: ttl}
	}

	if bucket := viper.GetString("s3.bucket"); bucket != "" {
		opts.S3 = &s3be.Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			Bucket:          bucket,
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
		}
	}
	return opts
}

// Open 打开工作目录下的仓库
func Open(ctx context.Context, workdir string) (*App, error) {
	logger := NewLogger()
	r, err := repo.Open(ctx, workdir, optionsFromConfig(logger))
	if err != nil {
		return nil, err
	}
	return &App{Repo: r, Logger: logger}, nil
}

// Init 在工作目录下创建新仓库
func Init(ctx context.Context, workdir string) (*App, error) {
	logger := NewLogger()
	r, err := repo.Init(ctx, workdir, optionsFromConfig(logger))
	if err != nil {
		return nil, err
	}
	return &App{Repo: r, Logger: logger}, nil
}

// Close 释放仓库句柄
func (a *App) Close() error {
	if a.Repo == nil {
		return nil
	}
	return a.Repo.Close()
}

// Author 返回配置的提交作者 (没配置时给默认值)
func (a *App) Author() (name, email string) {
	name = viper.GetString("user.name")
	if name == "" {
		name = "GridVault User"
	}
	email = viper.GetString("user.email")
	return name, email
}
