package provision

import (
	"time"

	"github.com/yourorg/provision-gateway/pkg/db/models"
)

// DeviceInfo is the JSON view of a device and its profile. It includes the
// SIP register password so a device can configure itself from it.
type DeviceInfo struct {
	ID                   string       `json:"id"`
	Identifier           string       `json:"identifier"`
	MACAddress           string       `json:"mac_address"`
	Vendor               string       `json:"vendor"`
	Model                string       `json:"model"`
	Version              string       `json:"version"`
	UserRegister         string       `json:"user_register"`
	PasswdRegister       string       `json:"passwd_register"`
	DisplayName          string       `json:"display_name"`
	DisplayNumber        string       `json:"display_number"`
	Location             string       `json:"location"`
	IPAddress            *string      `json:"ip_address"`
	PublicIP             *string      `json:"public_ip"`
	PrivateIP            *string      `json:"private_ip"`
	AttemptsProvisioning uint         `json:"attempts_provisioning"`
	ProvisionedAt        *time.Time   `json:"provisioned_at"`
	Profile              *ProfileInfo `json:"profile"`
}

// ProfileInfo is the JSON view of a device profile
type ProfileInfo struct {
	Name               string                 `json:"name"`
	SIPServer          string                 `json:"sip_server"`
	SIPPort            int                    `json:"sip_port"`
	SIPProtocol        string                 `json:"sip_protocol"`
	BackupServer       string                 `json:"backup_server"`
	DomainServer       string                 `json:"domain_server"`
	Codecs             []string               `json:"codecs"`
	NTPServer          string                 `json:"ntp_server"`
	TimeZone           string                 `json:"time_zone"`
	ProvisioningServer string                 `json:"provisioning_server"`
	SRTPEnabled        bool                   `json:"srtp_enable"`
	VLANEnabled        bool                   `json:"vlan_enabled"`
	VLANID             int                    `json:"vlan_id"`
	VLANPriority       int                    `json:"vlan_priority"`
	TemplateRef        string                 `json:"template_ref"`
	Metadata           map[string]interface{} `json:"metadata"`
}

// NewDeviceInfo builds the JSON view of d
func NewDeviceInfo(d *models.DeviceConfig) *DeviceInfo {
	info := &DeviceInfo{
		ID:                   d.ID,
		Identifier:           d.Identifier,
		MACAddress:           d.MACAddress,
		Vendor:               d.Vendor,
		Model:                d.Model,
		Version:              d.Version,
		UserRegister:         d.UserRegister,
		PasswdRegister:       d.PasswdRegister,
		DisplayName:          d.DisplayName,
		DisplayNumber:        d.DisplayNumber,
		Location:             d.Location,
		IPAddress:            d.IPAddress,
		PublicIP:             d.PublicIP,
		PrivateIP:            d.PrivateIP,
		AttemptsProvisioning: d.AttemptsProvisioning,
		ProvisionedAt:        d.ProvisionedAt,
	}

	if p := d.Profile; p != nil {
		codecs := []string(p.Codecs)
		if codecs == nil {
			codecs = []string{}
		}
		info.Profile = &ProfileInfo{
			Name:               p.Name,
			SIPServer:          p.SIPServer,
			SIPPort:            p.SIPPort,
			SIPProtocol:        string(p.SIPProtocol),
			BackupServer:       p.BackupServer,
			DomainServer:       p.DomainServer,
			Codecs:             codecs,
			NTPServer:          p.NTPServer,
			TimeZone:           p.TimeZone,
			ProvisioningServer: p.ProvisioningServer,
			SRTPEnabled:        p.SRTPEnabled,
			VLANEnabled:        p.VLANEnabled,
			VLANID:             p.VLANID,
			VLANPriority:       p.VLANPriority,
			TemplateRef:        p.TemplateRef,
			Metadata:           p.Metadata,
		}
	}

	return info
}
