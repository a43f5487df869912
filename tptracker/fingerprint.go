package tptracker

import (
	"fmt"

	"github.com/howeyc/crc16"
)

// KeyFingerprint identifies an API key in logs without revealing it.
func KeyFingerprint(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	return fmt.Sprintf("%04x", crc16.Checksum([]byte(apiKey), crc16.IBMTable))
}
