package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "service":
		return serviceTemplate, nil
	case "api":
		return apiTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serviceTemplate = `log_level = "info"

[[services]]
name = "calc"
endpoints = ["127.0.0.1:9400", "localhost:9401"]
api = "calc.api.toml"
connect_timeout = "3s"
write_timeout = "10s"
security_mode = "development"

  [services.tls]
  enabled = false
`

const apiTemplate = `[[methods]]
id = 1
name = "echo"
tx_kind = "none"
rx_kind = "primitive"

[[methods]]
id = 2
name = "add"
tx_kind = "none"
rx_kind = "primitive"

[[methods]]
id = 3
name = "tail"
tx_kind = "streaming"
rx_kind = "streaming"
`
