package audit

import (
	"time"
)

// EventAction is the recorder call that produced an event
type EventAction string

const (
	ActionRejected EventAction = "rejected"
	ActionBegin    EventAction = "begin"
	ActionFail     EventAction = "fail"
	ActionComplete EventAction = "complete"
)

// Event is the search-index form of one provisioning audit write
type Event struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	RecordID    string      `json:"record_id,omitempty"`
	Action      EventAction `json:"action"`
	Status      string      `json:"status"`
	DeviceID    string      `json:"device_id,omitempty"`
	MACAddress  string      `json:"mac_address,omitempty"`
	Identifier  string      `json:"identifier,omitempty"`
	Vendor      string      `json:"vendor,omitempty"`
	Model       string      `json:"model,omitempty"`
	Version     string      `json:"version,omitempty"`
	PublicIP    string      `json:"public_ip,omitempty"`
	PrivateIP   string      `json:"private_ip,omitempty"`
	Filename    string      `json:"filename,omitempty"`
	TemplateRef string      `json:"template_ref,omitempty"`
	UserAgent   string      `json:"user_agent,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

// QuickwitIndexConfig represents Quickwit index configuration
type QuickwitIndexConfig struct {
	Version          string           `json:"version"`
	IndexID          string           `json:"index_id"`
	DocMapping       DocMapping       `json:"doc_mapping"`
	SearchSettings   SearchSettings   `json:"search_settings"`
	IndexingSettings IndexingSettings `json:"indexing_settings"`
	RetentionPolicy  *RetentionPolicy `json:"retention_policy,omitempty"`
}

// DocMapping represents document mapping configuration
type DocMapping struct {
	Mode           string         `json:"mode"`
	FieldMappings  []FieldMapping `json:"field_mappings"`
	TimestampField string         `json:"timestamp_field"`
	TagFields      []string       `json:"tag_fields"`
}

// FieldMapping represents a field mapping
type FieldMapping struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Indexed   bool   `json:"indexed,omitempty"`
	Stored    bool   `json:"stored,omitempty"`
	Fast      bool   `json:"fast,omitempty"`
	Tokenizer string `json:"tokenizer,omitempty"`
}

// SearchSettings represents search configuration
type SearchSettings struct {
	DefaultSearchFields []string `json:"default_search_fields"`
}

// IndexingSettings represents indexing configuration
type IndexingSettings struct {
	CommitTimeoutSecs int `json:"commit_timeout_secs"`
}

// RetentionPolicy represents data retention configuration
type RetentionPolicy struct {
	Period   string `json:"period"`
	Schedule string `json:"schedule"`
}

// DefaultIndexConfig returns the index layout for provisioning events
func DefaultIndexConfig(indexID string) *QuickwitIndexConfig {
	text := func(name string, fast bool) FieldMapping {
		return FieldMapping{Name: name, Type: "text", Indexed: true, Stored: true, Fast: fast}
	}

	return &QuickwitIndexConfig{
		Version: "0.7",
		IndexID: indexID,
		DocMapping: DocMapping{
			Mode:           "dynamic",
			TimestampField: "timestamp",
			TagFields:      []string{"action", "status", "model"},
			FieldMappings: []FieldMapping{
				text("id", false),
				{Name: "timestamp", Type: "datetime", Indexed: true, Stored: true, Fast: true},
				text("record_id", false),
				text("action", true),
				text("status", true),
				text("device_id", false),
				text("mac_address", false),
				text("identifier", false),
				text("vendor", true),
				text("model", true),
				text("version", false),
				text("public_ip", false),
				text("private_ip", false),
				text("filename", false),
				text("template_ref", true),
				{Name: "user_agent", Type: "text", Stored: true},
				{Name: "notes", Type: "text", Indexed: true, Stored: true, Tokenizer: "default"},
			},
		},
		SearchSettings: SearchSettings{
			DefaultSearchFields: []string{"identifier", "mac_address", "notes"},
		},
		IndexingSettings: IndexingSettings{
			CommitTimeoutSecs: 30,
		},
		RetentionPolicy: &RetentionPolicy{
			Period:   "180 days",
			Schedule: "daily",
		},
	}
}
