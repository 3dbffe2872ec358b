package legohub

import (
	"encoding/hex"
	"strings"
)

// hexStr renders raw frame bytes for log output, e.g. "0a:00:41:00".
func hexStr(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// macStr renders a property payload holding a MAC address.
func macStr(data []byte) string {
	return strings.ToUpper(hexStr(data))
}

func boolByte(v bool) byte {
	if v {
		return 0x01
	}
	return 0x00
}
