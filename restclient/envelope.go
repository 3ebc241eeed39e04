package restclient

import (
	"encoding/json"
	"strings"

	"github.com/rustyeddy/dms-agent/cryptoutil"
)

// DefaultAESKey / DefaultAESIV are the 16-byte ASCII AES-128-CBC
// constants spec.md §4.5/§6 says are "embedded in the build". They
// are exported as variables, not untouchable constants, so a
// production build can inject provisioning-time values instead
// (spec.md §9 design note flags the embedded-constant approach as a
// security consideration) without changing the wire format.
var (
	DefaultAESKey = []byte("dms-agent-aes128")
	DefaultAESIV  = []byte("dms-agent-iv0000")
)

// decodeEnvelope implements the response-envelope rule of spec.md
// §4.5: a "data" field that begins with '{' is plaintext JSON; a
// longer string containing Base64 punctuation is AES-128-CBC
// ciphertext, Base64-decoded then decrypted then parsed as JSON.
// Before use, any "\/" the server JSON-escaped is unescaped to "/".
func (c *Client) decodeEnvelope(data string, out any) error {
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "{") {
		return unmarshalUnescaped(trimmed, out)
	}

	if len(trimmed) >= 50 && containsAny(trimmed, "+/=") {
		raw, err := cryptoutil.Base64Decode(trimmed)
		if err != nil {
			return newErr(KindDecrypt, "base64 decoding envelope", err)
		}
		plain, err := cryptoutil.AESCBCDecrypt(c.aesKey(), c.aesIV(), raw)
		if err != nil {
			return newErr(KindDecrypt, "decrypting envelope", err)
		}
		return unmarshalUnescaped(string(plain), out)
	}

	// Fall back to treating it as plaintext JSON; malformed payloads
	// surface as JsonParse, matching spec.md §7's "logged, message
	// discarded, connection preserved" policy at the caller.
	return unmarshalUnescaped(trimmed, out)
}

func unmarshalUnescaped(s string, out any) error {
	unescaped := strings.ReplaceAll(s, `\/`, "/")
	if err := json.Unmarshal([]byte(unescaped), out); err != nil {
		return newErr(KindJSONParse, "parsing envelope payload", err)
	}
	return nil
}

func containsAny(s, chars string) bool {
	return strings.ContainsAny(s, chars)
}
