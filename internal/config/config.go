// Package config loads displaynode options and the board description.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "DISPLAYNODE_"

// LoadConfig fills opts from the TOML file named by its Config field and from
// the environment. Precedence is CLI > env > file: fields whose flag was set
// on cmd are left alone.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changed[f.Name] = true
			}
		})
	}

	var path string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		path = f.String()
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
			}
			for i := range v.NumField() {
				ft := t.Field(i)
				if changed[fieldNameToFlag(ft.Name)] {
					continue
				}
				if key := ft.Tag.Get("toml"); key != "" {
					if value := getNestedValue(doc, key); value != nil {
						setFieldValue(v.Field(i), value)
					}
				}
			}
		}
	}

	for i := range v.NumField() {
		ft := t.Field(i)
		if changed[fieldNameToFlag(ft.Name)] {
			continue
		}
		if key := ft.Tag.Get("env"); key != "" {
			if value := os.Getenv(EnvPrefix + key); value != "" {
				setFieldValueFromString(v.Field(i), value)
			}
		}
	}

	return nil
}

// fieldNameToFlag converts "HotplugDebounceMs" to "hotplug-debounce-ms".
// Acronym runs stay together: "LoggingIRQ" is "logging-irq".
func fieldNameToFlag(name string) string {
	rs := []rune(name)
	var out []rune
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(rs[i-1])
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if prevLower || (nextLower && unicode.IsUpper(rs[i-1])) {
				out = append(out, '-')
			}
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	cur := data
	for i, part := range parts {
		if i == len(parts)-1 {
			return cur[part]
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		switch x := value.(type) {
		case string:
			if d, err := time.ParseDuration(x); err == nil {
				field.SetInt(int64(d))
			}
		case int64:
			field.SetInt(x * int64(time.Millisecond))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64, reflect.Int32:
		switch x := value.(type) {
		case int64:
			field.SetInt(x)
		case int:
			field.SetInt(int64(x))
		}
	case reflect.Uint, reflect.Uint64, reflect.Uint32:
		if x, ok := value.(int64); ok && x >= 0 {
			field.SetUint(uint64(x))
		}
	case reflect.Float64:
		switch x := value.(type) {
		case float64:
			field.SetFloat(x)
		case int64:
			field.SetFloat(float64(x))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		if arr, ok := value.([]any); ok {
			out := make([]string, 0, len(arr))
			for _, item := range arr {
				if s, isStr := item.(string); isStr {
					out = append(out, s)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
}

func setFieldValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		if d, err := time.ParseDuration(value); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64, reflect.Int32:
		if i, err := strconv.ParseInt(value, 0, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Uint, reflect.Uint64, reflect.Uint32:
		if u, err := strconv.ParseUint(value, 0, 64); err == nil {
			field.SetUint(u)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	}
}
