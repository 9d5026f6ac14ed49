package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"pgregory.net/rapid"

	"github.com/yourorg/provision-gateway/pkg/db/models"
	"github.com/yourorg/provision-gateway/pkg/identity"
	"github.com/yourorg/provision-gateway/pkg/origin"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(zap.NewNop())
	require.NoError(t, err)
	return r
}

func testContext() Context {
	stored := "10.1.1.1"
	device := &models.DeviceConfig{
		Identifier:     "device-1",
		MACAddress:     "aabbccddeeff",
		UserRegister:   "1001",
		PasswdRegister: "s3cret",
		DisplayName:    "Front Desk",
		PublicIP:       &stored,
	}
	profile := &models.DeviceProfile{
		Name:        "office",
		SIPServer:   "sip.example.net",
		SIPPort:     5080,
		SIPProtocol: models.SIPProtocolTLS,
		Codecs:      models.StringArray{"PCMU", "PCMA"},
		VLANEnabled: true,
		VLANID:      20,
		Metadata:    datatypes.JSONMap{"Firmware_URL": "http://fw.example.net", "sip_server": "shadowed", "bad-key": "x"},
	}
	desc := identity.Descriptor{Vendor: "Acme", Model: "ModelX", Version: "1.0", Identity: "device-1"}
	return BuildContext(device, profile, desc, origin.Origin{PublicIP: "8.8.8.8", PrivateIP: "192.168.1.20"})
}

func TestBuildContext(t *testing.T) {
	c := testContext()

	assert.Equal(t, "Acme", c.Vendor)
	assert.Equal(t, "ModelX", c.Model)
	assert.Equal(t, "8.8.8.8", c.PublicIP)
	assert.Equal(t, "192.168.1.20", c.PrivateIP)
	assert.Equal(t, "8.8.8.8", c.IPAddress)
	assert.Equal(t, 5080, c.SIPPort)
	assert.Equal(t, "TLS", c.SIPProtocol)
	assert.Equal(t, "office", c.ProfileName)
}

func TestBuildContext_NoProfile(t *testing.T) {
	c := BuildContext(&models.DeviceConfig{Identifier: "x", Vendor: "Stored"}, nil, identity.Descriptor{Vendor: "Reported"}, origin.Origin{})

	assert.Equal(t, "Stored", c.Vendor)
	assert.Equal(t, models.DefaultSIPPort, c.SIPPort)
	assert.Equal(t, "UDP", c.SIPProtocol)

	v := c.Values()
	assert.Equal(t, []string{}, v["codecs"])
	assert.Equal(t, map[string]interface{}{}, v["metadata"])
}

func TestContext_Values(t *testing.T) {
	v := testContext().Values()

	assert.Equal(t, "aabbccddeeff", v["mac"])
	assert.Equal(t, "aabbccddeeff", v["macaddress"])
	assert.Equal(t, 5080, v["port_server"])
	assert.Equal(t, "TLS", v["protocol_type"])
	assert.Equal(t, "sip.example.net", v["sip_server"])
	assert.Equal(t, "http://fw.example.net", v["firmware_url"])
	assert.NotContains(t, v, "bad-key")
}

func TestRender_FlatPlaceholders(t *testing.T) {
	r := newRenderer(t)

	out, err := r.Render("%%macaddress%%", testContext())
	require.NoError(t, err)
	assert.Equal(t, "aabbccddeeff", out)

	out, err = r.Render("account.1.user_name = %%USER_REGISTER%%\naccount.1.password = %%Passwd_Register%%", testContext())
	require.NoError(t, err)
	assert.Equal(t, "account.1.user_name = 1001\naccount.1.password = s3cret", out)
}

func TestRender_StructuredPass(t *testing.T) {
	r := newRenderer(t)

	body := `<id>{{ identifier }}</id>{% if vlan_enabled %}<vlan>{{ vlan_id }}</vlan>{% endif %}` +
		`{% for c in codecs %}<codec>{{ c }}</codec>{% endfor %}<x>{{ undefined_name }}</x>`
	out, err := r.Render(body, testContext())
	require.NoError(t, err)
	assert.Equal(t, "<id>device-1</id><vlan>20</vlan><codec>PCMU</codec><codec>PCMA</codec><x></x>", out)
}

func TestRender_BothPasses(t *testing.T) {
	r := newRenderer(t)

	out, err := r.Render("{% if srtp_enable %}on{% else %}off{% endif %} %%vlan_enabled%% %%srtp_enable%%", testContext())
	require.NoError(t, err)
	assert.Equal(t, "off 1 0", out)
}

func TestRender_Filters(t *testing.T) {
	r := newRenderer(t)

	out, err := r.Render(`{{ mac|macsep }} {{ mac|macsep:"-" }} {{ vlan_enabled|onezero }}`, testContext())
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff aa-bb-cc-dd-ee-ff 1", out)
}

func TestRender_SyntaxError(t *testing.T) {
	r := newRenderer(t)

	for _, body := range []string{
		"{% if %}",
		"{% for x in %}{% endfor %}",
		"{{ identifier",
		`{% include "/etc/passwd" %}`,
		`{% extends "base.xml" %}`,
		`{% ssi "/etc/passwd" %}`,
	} {
		_, err := r.Render(body, testContext())
		assert.ErrorIs(t, err, ErrTemplateSyntax, body)
		assert.ErrorIs(t, r.Validate(body), ErrTemplateSyntax, body)
	}
}

func TestRenderFlat(t *testing.T) {
	values := map[string]interface{}{
		"on":     true,
		"off":    false,
		"none":   nil,
		"list":   []string{"a", "b"},
		"map":    map[string]interface{}{"k": 1},
		"num":    42,
		"MixedK": "mixed",
	}

	tests := []struct {
		in   string
		want string
	}{
		{"%%on%%/%%off%%", "1/0"},
		{"[%%none%%][%%missing%%]", "[][]"},
		{"%%list%%", `["a","b"]`},
		{"%%map%%", `{"k":1}`},
		{"%%num%%", "42"},
		{"%%mixedk%% %%MIXEDK%%", "mixed mixed"},
		{"%%bad-name%% %% %%%%", "%%bad-name%% %% %%%%"},
		{"100%% done", "100%% done"},
		{"no tokens", "no tokens"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RenderFlat(tt.in, values), tt.in)
	}
}

func TestRenderFlat_CaseInsensitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z][a-z0-9_]{0,15}`).Draw(t, "name")
		value := rapid.StringMatching(`[A-Za-z0-9 .:-]{0,20}`).Draw(t, "value")

		flip := rapid.SliceOfN(rapid.Bool(), len(name), len(name)).Draw(t, "flip")
		var b strings.Builder
		for i, ch := range name {
			if flip[i] {
				b.WriteString(strings.ToUpper(string(ch)))
			} else {
				b.WriteRune(ch)
			}
		}

		got := RenderFlat("%%"+b.String()+"%%", map[string]interface{}{name: value})
		if got != value {
			t.Fatalf("%%%%%s%%%% rendered %q, want %q", b.String(), got, value)
		}
	})
}
