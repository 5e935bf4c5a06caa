package client

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// secretFields are masked before a payload reaches the debug log.
var secretFields = []string{"refresh_token", "access_token", "password", "token"}

func redactSecrets(payload []byte) []byte {
	if !gjson.ValidBytes(payload) {
		return payload
	}
	out := payload
	for _, field := range secretFields {
		if gjson.GetBytes(out, field).Exists() {
			if masked, err := sjson.SetBytes(out, field, "***"); err == nil {
				out = masked
			}
		}
	}
	return out
}
