package client

import (
	"encoding/base64"
	"unicode/utf8"
)

func isText(p []byte) bool {
	if !utf8.Valid(p) {
		return false
	}
	for _, r := range string(p) {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}

func encodeBase64(p []byte) string {
	return base64.StdEncoding.EncodeToString(p)
}
