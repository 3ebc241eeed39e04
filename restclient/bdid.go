package restclient

import (
	"strings"

	"github.com/rustyeddy/dms-agent/cryptoutil"
	"github.com/rustyeddy/dms-agent/identity"
)

// DeriveBDID implements the normative BDID derivation of spec.md §4.5:
//
//  1. If uniqueID starts with the client-id prefix and its tail is
//     exactly 12 hex chars, format that tail as "AA:BB:CC:DD:EE:FF".
//  2. Else if a real mac was provided, use it.
//  3. Else use uniqueID verbatim.
//  4. bdid = Base64(source).
func DeriveBDID(uniqueID, realMAC string) (string, error) {
	source, err := bdidSource(uniqueID, realMAC)
	if err != nil {
		return "", newErr(KindBdidCalculation, "deriving bdid source", err)
	}
	return cryptoutil.Base64Encode([]byte(source)), nil
}

func bdidSource(uniqueID, realMAC string) (string, error) {
	if strings.HasPrefix(uniqueID, identity.ClientIDPrefix) {
		tail := strings.TrimPrefix(uniqueID, identity.ClientIDPrefix)
		if canon, err := identity.CanonicalMAC(tail); err == nil {
			return identity.FormatMACColon(canon), nil
		}
	}
	if realMAC != "" {
		canon, err := identity.CanonicalMAC(realMAC)
		if err != nil {
			return "", err
		}
		return identity.FormatMACColon(canon), nil
	}
	return uniqueID, nil
}
