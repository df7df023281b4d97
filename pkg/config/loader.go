package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，如 TASK_LIFECYCLE_STORAGE_DATABASE_DSN
const EnvPrefix = "TASK_LIFECYCLE"

// Load 加载配置文件，应用默认值并校验
// path为空或文件不存在时使用默认配置。
func Load(path string) (*EngineConfig, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides 加载配置文件后依次应用viper中的覆盖项（命令行参数、环境变量）
func LoadWithOverrides(path string, v *viper.Viper) (*EngineConfig, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = NewViper()
	}
	ApplyOverrides(cfg, v)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析YAML内容
func Parse(data []byte) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	cfg.TaskLifecycle.Scanner.Enabled = true
	cfg.TaskLifecycle.Automation.Enabled = true
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (*EngineConfig, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse(nil)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// NewViper 创建绑定 TASK_LIFECYCLE_* 环境变量的viper实例
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overrideKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// overrideKeys 支持覆盖的配置项
var overrideKeys = []string{
	"general.log_level",
	"general.env",
	"storage.database.type",
	"storage.database.dsn",
	"server.host",
	"server.port",
	"server.mode",
	"scanner.enabled",
	"scanner.cron",
	"scanner.tenant_concurrency",
	"scanner.lock.redis_addr",
	"scanner.lock.redis_password",
	"automation.enabled",
	"tasks.table",
	"tasks.id_column",
	"tasks.tenant_column",
}

// ApplyOverrides 把viper中已设置的值写入配置
func ApplyOverrides(cfg *EngineConfig, v *viper.Viper) {
	tl := &cfg.TaskLifecycle
	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) && v.GetInt(key) != 0 {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("general.log_level", &tl.General.LogLevel)
	setString("general.env", &tl.General.Env)
	setString("storage.database.type", &tl.Storage.Database.Type)
	setString("storage.database.dsn", &tl.Storage.Database.DSN)
	setString("server.host", &tl.Server.Host)
	setInt("server.port", &tl.Server.Port)
	setString("server.mode", &tl.Server.Mode)
	setBool("scanner.enabled", &tl.Scanner.Enabled)
	setString("scanner.cron", &tl.Scanner.Cron)
	setInt("scanner.tenant_concurrency", &tl.Scanner.TenantConcurrency)
	setString("scanner.lock.redis_addr", &tl.Scanner.Lock.RedisAddr)
	setString("scanner.lock.redis_password", &tl.Scanner.Lock.RedisPassword)
	setBool("automation.enabled", &tl.Automation.Enabled)
	setString("tasks.table", &tl.Tasks.Table)
	setString("tasks.id_column", &tl.Tasks.IDColumn)
	setString("tasks.tenant_column", &tl.Tasks.TenantColumn)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
