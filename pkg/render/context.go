package render

import (
	"regexp"
	"strings"

	"github.com/yourorg/provision-gateway/pkg/db/models"
	"github.com/yourorg/provision-gateway/pkg/identity"
	"github.com/yourorg/provision-gateway/pkg/origin"
)

var validName = regexp.MustCompile(`^[a-z0-9_]+$`)

// Context is the set of values a device template may reference
type Context struct {
	Identifier     string
	MACAddress     string
	Vendor         string
	Model          string
	Version        string
	UserRegister   string
	PasswdRegister string
	DisplayName    string
	DisplayNumber  string
	Location       string
	IPAddress      string
	PublicIP       string
	PrivateIP      string

	ProfileName        string
	SIPServer          string
	SIPPort            int
	SIPProtocol        string
	BackupServer       string
	DomainServer       string
	Codecs             []string
	NTPServer          string
	TimeZone           string
	ProvisioningServer string
	SRTPEnabled        bool
	VLANEnabled        bool
	VLANID             int
	VLANPriority       int
	Metadata           map[string]interface{}
}

// BuildContext assembles the template context for one request. Values the
// device reported in this request fill fields the stored record leaves
// empty, and the observed origin wins over stored addresses.
func BuildContext(device *models.DeviceConfig, profile *models.DeviceProfile, desc identity.Descriptor, o origin.Origin) Context {
	c := Context{
		Identifier:     device.Identifier,
		MACAddress:     device.MACAddress,
		Vendor:         firstNonEmpty(device.Vendor, desc.Vendor),
		Model:          firstNonEmpty(device.Model, desc.Model),
		Version:        firstNonEmpty(device.Version, desc.Version),
		UserRegister:   device.UserRegister,
		PasswdRegister: device.PasswdRegister,
		DisplayName:    device.DisplayName,
		DisplayNumber:  device.DisplayNumber,
		Location:       device.Location,
		PublicIP:       firstNonEmpty(o.PublicIP, deref(device.PublicIP)),
		PrivateIP:      firstNonEmpty(o.PrivateIP, deref(device.PrivateIP)),
		SIPPort:        models.DefaultSIPPort,
		SIPProtocol:    string(models.SIPProtocolUDP),
	}
	c.IPAddress = firstNonEmpty(deref(device.IPAddress), c.PublicIP)

	if profile != nil {
		c.ProfileName = profile.Name
		c.SIPServer = profile.SIPServer
		if profile.SIPPort != 0 {
			c.SIPPort = profile.SIPPort
		}
		if profile.SIPProtocol != "" {
			c.SIPProtocol = string(profile.SIPProtocol)
		}
		c.BackupServer = profile.BackupServer
		c.DomainServer = profile.DomainServer
		c.Codecs = append([]string(nil), profile.Codecs...)
		c.NTPServer = profile.NTPServer
		c.TimeZone = profile.TimeZone
		c.ProvisioningServer = profile.ProvisioningServer
		c.SRTPEnabled = profile.SRTPEnabled
		c.VLANEnabled = profile.VLANEnabled
		c.VLANID = profile.VLANID
		c.VLANPriority = profile.VLANPriority
		if len(profile.Metadata) > 0 {
			c.Metadata = make(map[string]interface{}, len(profile.Metadata))
			for k, v := range profile.Metadata {
				c.Metadata[k] = v
			}
		}
	}

	return c
}

// Values flattens the context into the name mapping both passes consult.
// Keys are lowercase. Profile metadata keys are added when they are plain
// identifiers that do not collide with a built-in name.
func (c Context) Values() map[string]interface{} {
	codecs := c.Codecs
	if codecs == nil {
		codecs = []string{}
	}

	v := map[string]interface{}{
		"identifier":          c.Identifier,
		"mac_address":         c.MACAddress,
		"macaddress":          c.MACAddress,
		"mac":                 c.MACAddress,
		"vendor":              c.Vendor,
		"model":               c.Model,
		"version":             c.Version,
		"user_register":       c.UserRegister,
		"passwd_register":     c.PasswdRegister,
		"display_name":        c.DisplayName,
		"display_number":      c.DisplayNumber,
		"location":            c.Location,
		"ip_address":          c.IPAddress,
		"public_ip":           c.PublicIP,
		"private_ip":          c.PrivateIP,
		"profile_name":        c.ProfileName,
		"sip_server":          c.SIPServer,
		"sip_port":            c.SIPPort,
		"port_server":         c.SIPPort,
		"sip_protocol":        c.SIPProtocol,
		"protocol_type":       c.SIPProtocol,
		"backup_server":       c.BackupServer,
		"domain_server":       c.DomainServer,
		"codecs":              codecs,
		"ntp_server":          c.NTPServer,
		"time_zone":           c.TimeZone,
		"provisioning_server": c.ProvisioningServer,
		"srtp_enable":         c.SRTPEnabled,
		"vlan_enabled":        c.VLANEnabled,
		"vlan_id":             c.VLANID,
		"vlan_priority":       c.VLANPriority,
	}

	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	v["metadata"] = metadata

	for k, val := range c.Metadata {
		key := strings.ToLower(k)
		if !validName.MatchString(key) {
			continue
		}
		if _, taken := v[key]; !taken {
			v[key] = val
		}
	}

	return v
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
