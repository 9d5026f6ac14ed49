package models

import (
	"time"
)

// ProvisioningStatus is the outcome tag of one provisioning attempt
type ProvisioningStatus string

const (
	ProvisioningStatusOK        ProvisioningStatus = "ok"
	ProvisioningStatusForbidden ProvisioningStatus = "forbidden"
	ProvisioningStatusError     ProvisioningStatus = "error"
)

// Provisioning is the append-only audit row of one download attempt.
// Device fields are copied so the history survives device edits.
type Provisioning struct {
	ID          string             `gorm:"primaryKey;size:64" json:"id"`
	DeviceID    *string            `gorm:"size:64;index" json:"device_id,omitempty"`
	MACAddress  string             `gorm:"column:mac_address;size:14;index" json:"mac_address"`
	Identifier  string             `gorm:"size:100;index" json:"identifier"`
	Vendor      string             `gorm:"size:50" json:"vendor"`
	Model       string             `gorm:"size:50" json:"model"`
	Version     string             `gorm:"size:50" json:"version"`
	PublicIP    string             `gorm:"column:public_ip;size:45" json:"public_ip,omitempty"`
	PrivateIP   string             `gorm:"column:private_ip;size:45" json:"private_ip,omitempty"`
	Filename    string             `gorm:"size:255" json:"filename,omitempty"`
	TemplateRef string             `gorm:"size:255" json:"template_ref,omitempty"`
	Status      ProvisioningStatus `gorm:"size:16;not null;index" json:"status"`
	UserAgent   string             `gorm:"type:text" json:"user_agent"`
	Notes       string             `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt   time.Time          `gorm:"index" json:"created_at"`

	Device *DeviceConfig `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"device,omitempty"`
}

// TableName returns the table name for Provisioning
func (Provisioning) TableName() string {
	return "provisionings"
}
