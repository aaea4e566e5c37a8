package types

import "time"

// DeviceStatus represents the lifecycle state of a device
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "pending"
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusDisabled DeviceStatus = "disabled"
)

// Device represents a classroom device registered on a hub
type Device struct {
	ID         string       `json:"id" db:"id"`
	HubID      string       `json:"hub_id" db:"hub_id"`
	DeviceCode string       `json:"device_code" db:"device_code"`
	Name       string       `json:"name" db:"name"`
	DeviceType string       `json:"device_type" db:"device_type"`
	Status     DeviceStatus `json:"status" db:"status"`
	SecretHash string       `json:"-" db:"secret_hash"`
	LastSeenAt *time.Time   `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the device
func (d *Device) Clone() *Device {
	out := *d
	if d.LastSeenAt != nil {
		seen := *d.LastSeenAt
		out.LastSeenAt = &seen
	}
	return &out
}

// RegisterDeviceRequest represents device registration data
type RegisterDeviceRequest struct {
	HubID      string `json:"hub_id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
}

// DeviceRegistration is returned once at registration. Secret is never
// stored in clear.
type DeviceRegistration struct {
	Device *Device `json:"device"`
	Secret string  `json:"secret"`
}

// DeviceUpdates represents a partial device update
type DeviceUpdates struct {
	Name   *string       `json:"name,omitempty"`
	Status *DeviceStatus `json:"status,omitempty"`
}

// DeviceFilters represents filters for device listing
type DeviceFilters struct {
	HubID  string       `json:"hub_id,omitempty"`
	Status DeviceStatus `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}
