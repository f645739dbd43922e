package config

import (
	"fmt"
	"os"
)

// Template is a commented starting point matching DefaultConfig.
const Template = `# serial device node of the XC bridge
device = "/dev/ttyACM0"
baud_rate = 115200

# per-call response deadline and receiver shutdown bound
timeout = "2s"
stop_timeout = "1s"

# frames buffered per channel before the oldest is dropped
queue_depth = 16

# xcbridgectl serve
listen_addr = "127.0.0.1:9300"
cors_origins = ["http://localhost:3000"]
# HS256 secret for POST /device/reboot-update; empty leaves it open
auth_secret = ""

# rotated JSON log file in addition to stderr; empty disables
log_file = ""
`

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
