package config

import (
	"fmt"
	"os"
)

func Template() string {
	return runtimeTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(runtimeTemplate), 0o600)
}

const runtimeTemplate = `[schema]
path = "/etc/edgeipc/structs.bin"
extra = []

[limits]
# 0 for both means half of system memory, capped by the 32-bit size field.
max_message_bytes = 0
max_pdus = 0
max_event_entries = 4096

[conn]
connect_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
handshake_timeout = "5s"
dial_attempts = 3

[log]
level = "info"

[admin]
addr = "127.0.0.1:9400"
# Bearer token for /structs and /metrics. Empty leaves them open.
token = ""
cors_origins = ["http://localhost:3000"]

[relay]
listen = ""
target = ""
`
