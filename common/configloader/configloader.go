package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Load загружает конфиг в cfgPtr: defaults → YAML → ENV.
// envPrefix - префикс ENV переменных, например: "FEED".
func Load(path, envPrefix string, cfgPtr interface{}) error {
	return LoadWithFlags(path, envPrefix, nil, nil, cfgPtr)
}

// LoadWithFlags дополнительно накладывает явно заданные CLI-флаги поверх
// файла и ENV. bindings: имя флага → ключ конфига ("product" → "feed.products").
func LoadWithFlags(path, envPrefix string, fs *pflag.FlagSet, bindings map[string]string, cfgPtr interface{}) error {
	v := viper.New()

	// Шаг 1: зарегистрированные дефолты
	for key, val := range getDefaults() {
		v.SetDefault(key, val)
	}

	// Шаг 2: ENV
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Шаг 3: файл (если указан)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	// Шаг 4: флаги (только изменённые пользователем)
	if fs != nil {
		for name, key := range bindings {
			f := fs.Lookup(name)
			if f == nil {
				return fmt.Errorf("configloader: unknown flag %q", name)
			}
			if !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("configloader: bind flag %q: %w", name, err)
			}
		}
	}

	// Шаг 5: decode
	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Шаг 6: validate
	if val, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}

	return nil
}
