package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"tickwire.com/pkg/logger"
)

// Options 控制 LoadAndWatch 的可选行为
type Options struct {
	// Paths 额外的搜索目录，默认 ./config 和 .
	Paths []string
	// Defaults 在读文件之前写入 viper 的默认值（key 用点分路径）
	Defaults map[string]any
	// OnChange 热更新成功后回调，out 已经是新值
	OnChange func()
	// NoWatch 测试里关掉文件监听
	NoWatch bool
}

// LoadAndWatch 约定读取 config/{service}.yaml，并监听文件变更热更新到 out
func LoadAndWatch(service string, out interface{}, opts ...Options) (*viper.Viper, error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}

	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range opt.Paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	for k, val := range opt.Defaults {
		v.SetDefault(k, val)
	}

	// 环境变量覆盖，例如 QUOTES_SERVICE_HTTP_ADDR 覆盖 http.addr
	v.SetEnvPrefix(envPrefix(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	ctx := context.Background()
	logger.Info(ctx, "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))

	if opt.NoWatch {
		return v, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("file", e.Name))
		if err := v.Unmarshal(out); err != nil {
			logger.Error(ctx, "reload config error", zap.Error(err))
			return
		}
		if opt.OnChange != nil {
			opt.OnChange()
		}
	})
	v.WatchConfig()

	return v, nil
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
