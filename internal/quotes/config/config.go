package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"tickwire.com/internal/quotes/backoff"
	"tickwire.com/internal/quotes/cache"
	"tickwire.com/internal/quotes/restclient"
	"tickwire.com/internal/quotes/storage/influxsink"
	"tickwire.com/internal/quotes/storage/redisstore"
	"tickwire.com/internal/quotes/stream"
	"tickwire.com/pkg/xredis"
)

const ServiceName = "quotes-service"

// 总配置
type Config struct {
	Name       string        `mapstructure:"name" yaml:"name"`
	Log        LogConfig     `mapstructure:"log" yaml:"log"`
	HTTP       HTTPConfig    `mapstructure:"http" yaml:"http"`
	Trace      TraceConfig   `mapstructure:"trace" yaml:"trace"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	Resume     ResumeConfig  `mapstructure:"resume" yaml:"resume"`

	// Caches 按数据类别分实例，key 是类别名（prices/candles/indicators）
	Caches  map[string]cache.Config `mapstructure:"caches" yaml:"caches"`
	Streams []stream.Config         `mapstructure:"streams" yaml:"streams"`
	Rest    []RestProvider          `mapstructure:"rest" yaml:"rest"`

	Nats   NatsConfig        `mapstructure:"nats" yaml:"nats"`
	Influx influxsink.Config `mapstructure:"influx" yaml:"influx"`
	Redis  RedisConfig       `mapstructure:"redis" yaml:"redis"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// HTTP 配置
type HTTPConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	RateLimit   float64  `mapstructure:"rate_limit" yaml:"rate_limit"` // 每个 ip+路由每秒请求数
	Burst       int      `mapstructure:"burst" yaml:"burst"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type TraceConfig struct {
	// Endpoint 为空不上报，stdout 打到标准输出，其它当 OTLP gRPC 地址
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

type ResumeConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Threshold time.Duration `mapstructure:"threshold" yaml:"threshold"`
}

type NatsConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type RedisConfig struct {
	xredis.Config `mapstructure:",squash" yaml:",inline"`
	Snapshot      redisstore.Config `mapstructure:"snapshot" yaml:"snapshot"`
}

type RestProvider struct {
	Name        string         `mapstructure:"name" yaml:"name"`
	BaseURL     string         `mapstructure:"base_url" yaml:"base_url"`
	Spacing     time.Duration  `mapstructure:"spacing" yaml:"spacing"`
	MaxAttempts int            `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff     backoff.Policy `mapstructure:"backoff" yaml:"backoff"`
	Timeout     time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	Cache       string         `mapstructure:"cache" yaml:"cache"`
	TTL         time.Duration  `mapstructure:"ttl" yaml:"ttl"`
	Credential  CredentialRef  `mapstructure:"credential" yaml:"credential"`
}

// CredentialRef 配置文件里只写放密钥的环境变量名，不写密钥本身
type CredentialRef struct {
	Header string `mapstructure:"header" yaml:"header"`
	Query  string `mapstructure:"query" yaml:"query"`
	Env    string `mapstructure:"env" yaml:"env"`
}

// Resolve 从环境变量取出凭证，没配置返回零值
func (r CredentialRef) Resolve() (restclient.Credential, error) {
	if r.Env == "" {
		return restclient.Credential{}, nil
	}
	v := os.Getenv(r.Env)
	if v == "" {
		return restclient.Credential{}, fmt.Errorf("credential env %s is empty", r.Env)
	}
	return restclient.Credential{Header: r.Header, Query: r.Query, Value: v}, nil
}

// Defaults 读文件之前写进 viper 的默认值
func Defaults() map[string]any {
	return map[string]any{
		"name":             ServiceName,
		"log.level":        "info",
		"http.addr":        ":8080",
		"http.rate_limit":  20,
		"http.burst":       40,
		"stale_after":      "2m",
		"resume.interval":  "5s",
		"resume.threshold": "10s",
	}
}

// Validate 启动前检查，热更新时也会调用
func (c *Config) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, s := range c.Streams {
		if s.Provider == "" {
			errs = append(errs, fmt.Errorf("streams[%d]: provider is required", i))
			continue
		}
		if seen[s.Provider] {
			errs = append(errs, fmt.Errorf("streams[%d]: duplicate provider %q", i, s.Provider))
		}
		seen[s.Provider] = true
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("stream %s: url is required", s.Provider))
		}
		if len(s.Symbols) == 0 {
			errs = append(errs, fmt.Errorf("stream %s: no symbols", s.Provider))
		}
		syms := map[string]bool{}
		for _, sym := range s.Symbols {
			if sym.Symbol == "" {
				errs = append(errs, fmt.Errorf("stream %s: empty symbol", s.Provider))
				continue
			}
			if syms[sym.Symbol] {
				errs = append(errs, fmt.Errorf("stream %s: duplicate symbol %q", s.Provider, sym.Symbol))
			}
			syms[sym.Symbol] = true
		}
	}

	seen = map[string]bool{}
	for i, r := range c.Rest {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("rest[%d]: name is required", i))
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("rest[%d]: duplicate provider %q", i, r.Name))
		}
		seen[r.Name] = true
		if r.BaseURL == "" {
			errs = append(errs, fmt.Errorf("rest %s: base_url is required", r.Name))
		}
		if r.Spacing < 0 {
			errs = append(errs, fmt.Errorf("rest %s: negative spacing", r.Name))
		}
		if _, ok := c.Caches[r.Cache]; !ok {
			errs = append(errs, fmt.Errorf("rest %s: unknown cache class %q", r.Name, r.Cache))
		}
		if r.Credential.Env != "" && r.Credential.Header == "" && r.Credential.Query == "" {
			errs = append(errs, fmt.Errorf("rest %s: credential needs header or query name", r.Name))
		}
	}
	return errors.Join(errs...)
}

// Spacing 每个 REST provider 的最小请求间隔，热更新时重新下发给限流器
func (c *Config) Spacing() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Rest))
	for _, r := range c.Rest {
		out[r.Name] = r.Spacing
	}
	return out
}
