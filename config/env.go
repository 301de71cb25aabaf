package config

import (
	"reflect"
	"strings"
	"sync"

	"github.com/knadh/koanf/providers/env"
)

// envPrefix is shared by every variable the loader reads.
const envPrefix = "AGILITY_"

type envField struct {
	key  string
	kind reflect.Kind
}

var (
	envOnce  sync.Once
	envIndex map[string]envField
)

// envFields maps each `env` tag in Config to its dotted koanf key.
func envFields() map[string]envField {
	envOnce.Do(func() {
		envIndex = map[string]envField{}
		indexEnv(reflect.TypeOf(Config{}), "", envIndex)
	})
	return envIndex
}

func indexEnv(t reflect.Type, prefix string, out map[string]envField) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("koanf")
		if name == "" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			indexEnv(f.Type, key, out)
			continue
		}
		if tag := f.Tag.Get("env"); tag != "" {
			out[tag] = envField{key: key, kind: f.Type.Kind()}
		}
	}
}

// envProvider reads AGILITY_* variables that carry an `env` tag. Lists are
// comma separated; maps use key=value pairs.
func envProvider() *env.Env {
	fields := envFields()
	return env.ProviderWithValue(envPrefix, ".", func(name, value string) (string, interface{}) {
		f, ok := fields[name]
		if !ok || value == "" {
			return "", nil
		}
		switch f.kind {
		case reflect.Slice:
			return f.key, splitList(value)
		case reflect.Map:
			return f.key, splitPairs(value)
		default:
			return f.key, value
		}
	})
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitPairs(v string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
