// =============================================================================
// 📦 longtask 配置加载器
// =============================================================================
// 优先级: 默认值 → YAML 文件 → 环境变量
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithValidator(func(c *config.Config) error { return c.Validate() }).
//	    Load()
//
// 环境变量名由 env tag 逐层拼接，如 LONGTASK_RUNNERS_DELETE_MODEL_PAGE_SIZE
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultEnvPrefix = "LONGTASK"

type Loader struct {
	configPath string
	envPrefix  string
	lookup     func(string) (string, bool)
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix, lookup: os.LookupEnv}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 按添加顺序执行，第一个失败即返回
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.readFile(cfg); err != nil {
		return nil, err
	}
	if err := l.applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

// readFile 路径为空或文件不存在时保留默认值
func (l *Loader) readFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("read config %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", l.configPath, err)
	}
	return nil
}

// applyEnv 空字符串视为未设置；所有解析错误一并返回
func (l *Loader) applyEnv(v reflect.Value, prefix string) error {
	var errs []error
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			errs = append(errs, l.applyEnv(field, key))
			continue
		}
		raw, ok := l.lookup(key)
		if !ok || raw == "" || !field.CanSet() {
			continue
		}
		if err := decodeInto(field, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", key, raw, err))
		}
	}
	return errors.Join(errs...)
}

var durationType = reflect.TypeOf(time.Duration(0))

func decodeInto(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// MustLoad 仅用于测试与示例
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}
