package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalMAC(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"aa:bb:cc:dd:ee:ff", "AABBCCDDEEFF"},
		{"AA-BB-CC-DD-EE-FF", "AABBCCDDEEFF"},
		{"aabbccddeeff", "AABBCCDDEEFF"},
		{"AA:BB:CC:DD:EE:FF", "AABBCCDDEEFF"},
	}
	for _, c := range cases {
		got, err := CanonicalMAC(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestCanonicalMACInvalid(t *testing.T) {
	_, err := CanonicalMAC("not-a-mac")
	assert.Error(t, err)

	_, err = CanonicalMAC("aa:bb:cc:dd:ee:gg")
	assert.Error(t, err)
}

func TestIdentityClientIDAndMACForms(t *testing.T) {
	id, err := NewIdentity("RX-9000", "SN123", "aa:bb:cc:dd:ee:ff", "NA", "Acme",
		Projector, Embedded, "US", "1.2.3", []string{"arm64"})
	require.NoError(t, err)

	assert.Equal(t, "AABBCCDDEEFF", id.MAC())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", id.MACColon())
	assert.Equal(t, ClientIDPrefix+"AABBCCDDEEFF", id.ClientID())
	assert.Equal(t, id.MAC(), id.MACTail12())
}

func TestStaticProvider(t *testing.T) {
	id, _ := NewIdentity("M", "S", "aabbccddeeff", "NA", "B", Linux, Embedded, "US", "1", nil)
	p := StaticProvider{ID: id}
	got, err := p.Identity()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
