package config

import (
	"bytes"
	"encoding/json"
	"os"

	apexerrors "github.com/cregis/apex/internal/errors"
)

// wireConfig is the on-disk JSON shape. version is parsed but not
// checked; unknown fields are silently ignored per spec §6.
type wireConfig struct {
	Version string `json:"version"`
	Config
	Global GlobalAuth `json:"global"` // spec names the top-level auth block "global"
}

// Load reads, parses, validates, and compiles the configuration file at
// path into an immutable Config snapshot. This is the only entry point that
// touches the filesystem; Store.Reload calls it and decides whether to
// publish the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apexerrors.WrapConfigError(err, path, "failed to read configuration file")
	}

	var wc wireConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wc); err != nil {
		return nil, apexerrors.WrapConfigError(err, path, "failed to parse configuration JSON")
	}

	raw := wc.Config
	// "global" is the documented key (spec §6); "global_auth" is the
	// Config struct's Go-side name. "global" wins when it is set;
	// "global_auth" applies only when "global" is absent.
	if wc.Global.Mode != "" {
		raw.GlobalAuth = wc.Global
	}

	compiled, err := Compile(&raw)
	if err != nil {
		return nil, err
	}
	return compiled, nil
}
