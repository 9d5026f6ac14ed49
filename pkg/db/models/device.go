package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yourorg/provision-gateway/pkg/identity"
)

// SIPProtocol is the transport used to reach the SIP server
type SIPProtocol string

const (
	SIPProtocolUDP SIPProtocol = "UDP"
	SIPProtocolTCP SIPProtocol = "TCP"
	SIPProtocolTLS SIPProtocol = "TLS"
)

// DefaultSIPPort is used when a profile does not set one
const DefaultSIPPort = 5060

// DeviceProfile is the shared configuration for a class of devices
type DeviceProfile struct {
	ID                 string            `gorm:"primaryKey;size:64" json:"id"`
	Name               string            `gorm:"size:100;uniqueIndex;not null" json:"name"`
	SIPServer          string            `gorm:"column:sip_server;size:255" json:"sip_server"`
	SIPPort            int               `gorm:"column:sip_port;default:5060" json:"sip_port"`
	SIPProtocol        SIPProtocol       `gorm:"column:sip_protocol;size:3;default:'UDP'" json:"sip_protocol"`
	BackupServer       string            `gorm:"size:255" json:"backup_server"`
	DomainServer       string            `gorm:"size:255" json:"domain_server"`
	Codecs             StringArray       `json:"codecs"`
	NTPServer          string            `gorm:"column:ntp_server;size:255" json:"ntp_server"`
	TimeZone           string            `gorm:"size:64" json:"time_zone"`
	ProvisioningServer string            `gorm:"size:255" json:"provisioning_server"`
	SRTPEnabled        bool              `gorm:"column:srtp_enable;default:false" json:"srtp_enable"`
	VLANEnabled        bool              `gorm:"column:vlan_enabled;default:false" json:"vlan_enabled"`
	VLANID             int               `gorm:"column:vlan_id;default:0" json:"vlan_id"`
	VLANPriority       int               `gorm:"column:vlan_priority;default:0" json:"vlan_priority"`
	TemplateRef        string            `gorm:"size:255" json:"template_ref"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// TableName returns the table name for DeviceProfile
func (DeviceProfile) TableName() string {
	return "device_profiles"
}

// Validate checks the administrator-facing invariants of a profile
func (p *DeviceProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.SIPPort != 0 && (p.SIPPort < 1000 || p.SIPPort > 9999) {
		return fmt.Errorf("sip port %d must have 4 digits", p.SIPPort)
	}
	switch p.SIPProtocol {
	case "", SIPProtocolUDP, SIPProtocolTCP, SIPProtocolTLS:
	default:
		return fmt.Errorf("unsupported sip protocol %q", p.SIPProtocol)
	}
	return nil
}

// DeviceConfig is the record of one physical device
type DeviceConfig struct {
	ID                   string         `gorm:"primaryKey;size:64" json:"id"`
	ProfileID            *string        `gorm:"size:64;index" json:"profile_id,omitempty"`
	Identifier           string         `gorm:"size:100;uniqueIndex;not null" json:"identifier"`
	MACAddress           string         `gorm:"column:mac_address;size:14;uniqueIndex;not null" json:"mac_address"`
	Vendor               string         `gorm:"size:50" json:"vendor"`
	Model                string         `gorm:"size:50" json:"model"`
	Version              string         `gorm:"size:50" json:"version"`
	UserRegister         string         `gorm:"size:21" json:"user_register"`
	PasswdRegister       string         `gorm:"size:50" json:"passwd_register"`
	DisplayName          string         `gorm:"size:50" json:"display_name"`
	DisplayNumber        string         `gorm:"size:50" json:"display_number"`
	Location             string         `gorm:"size:255" json:"location"`
	IPAddress            *string        `gorm:"column:ip_address;size:45" json:"ip_address,omitempty"`
	PublicIP             *string        `gorm:"column:public_ip;size:45" json:"public_ip,omitempty"`
	PrivateIP            *string        `gorm:"column:private_ip;size:45" json:"private_ip,omitempty"`
	AttemptsProvisioning uint           `gorm:"not null;default:0" json:"attempts_provisioning"`
	ProvisionedAt        *time.Time     `json:"provisioned_at,omitempty"`
	ExportedToRPS        bool           `gorm:"column:exported_to_rps;default:false" json:"exported_to_rps"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`

	// Relationships
	Profile *DeviceProfile `gorm:"foreignKey:ProfileID;constraint:OnDelete:SET NULL" json:"profile,omitempty"`
}

// TableName returns the table name for DeviceConfig
func (DeviceConfig) TableName() string {
	return "device_configs"
}

// BeforeSave keeps the hardware address in its stored form
func (d *DeviceConfig) BeforeSave(tx *gorm.DB) error {
	d.MACAddress = identity.NormalizeMAC(d.MACAddress)
	return nil
}

// Validate checks the administrator-facing invariants of a device
func (d *DeviceConfig) Validate() error {
	if d.Identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	mac := identity.NormalizeMAC(d.MACAddress)
	if !identity.IsValidMAC(mac) {
		return fmt.Errorf("mac address %q must be 12 to 14 hexadecimal characters", d.MACAddress)
	}
	return nil
}

// String returns the identifier, or the MAC when no identifier is set
func (d *DeviceConfig) String() string {
	if d.Identifier != "" {
		return d.Identifier
	}
	return d.MACAddress
}
