package config

import (
	"bytes"
	"io"
	"reflect"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/janvangent1/CHrocodile/device"
)

// Read reads a config from the given file. ${VAR} references are replaced from the environment
// before parsing.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", filePath)
	}
	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", filePath)
	}
	return cfg, nil
}

// FromReader parses a config. The input is JSON5, so comments and trailing commas are allowed.
// Fields that are not given keep their defaults; unknown fields are an error.
func FromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var attrs map[string]interface{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json5.Unmarshal(raw, &attrs); err != nil {
			return nil, errors.Wrap(err, "parsing config")
		}
	}

	cfg := Default()
	if err := decode(attrs, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(attrs map[string]interface{}, out *Config) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   out,
		Metadata: &md,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToMeasuringModeHook,
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(attrs); err != nil {
		return errors.Wrap(err, "decoding config")
	}
	if len(md.Unused) > 0 {
		return errors.Errorf("unknown config fields: %s", strings.Join(md.Unused, ", "))
	}
	return nil
}

func stringToMeasuringModeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(device.MeasuringMode(0)) {
		return data, nil
	}
	return device.ParseMeasuringMode(data.(string))
}
