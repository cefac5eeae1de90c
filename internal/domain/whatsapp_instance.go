package domain

import "time"

// Instance lifecycle labels written by the bridge manager.
const (
	InstanceStatusCreated      = "created"
	InstanceStatusConnecting   = "connecting"
	InstanceStatusConnected    = "connected"
	InstanceStatusDisconnected = "disconnected"
	InstanceStatusError        = "error"
	InstanceStatusDeleted      = "deleted"
)

// Live transport-level connection states, independent of Status.
const (
	ConnStateOpen       = "open"
	ConnStateClose      = "close"
	ConnStateConnecting = "connecting"
)

// WaInstance is the WhatsApp bridge instance record. The bridge manager
// owns the authoritative copy; the console holds a cached view per owner.
// Pairing material (qr columns) is only meaningful while the connection
// state is not open.
type WaInstance struct {
	ID                int64      `json:"id,string" gorm:"primaryKey"`
	OwnerID           string     `json:"owner_id" gorm:"uniqueIndex;size:64"`
	InstanceName      string     `json:"instance_name"`
	InstanceID        string     `json:"instance_id"` // external id, empty until assigned
	Status            string     `json:"status"`
	ConnectionState   string     `json:"connection_state"`
	ConnectedNumber   string     `json:"connected_number"`
	ProfileName       string     `json:"profile_name"`
	ProfilePhotoURL   string     `json:"profile_photo_url"`
	QrcodeBase64      string     `json:"qrcode_base64"`
	QrcodePairingCode string     `json:"qrcode_pairing_code"`
	QrcodeGeneratedAt *time.Time `json:"qrcode_generated_at"`
	QrcodeExpiresAt   *time.Time `json:"qrcode_expires_at"`
	WebhookURL        string     `json:"webhook_url"`
	Active            bool       `json:"active"`
	ConnectedAt       *time.Time `json:"connected_at"`
	DisconnectedAt    *time.Time `json:"disconnected_at"`
	LastError         string     `json:"last_error"`
	LastErrorAt       *time.Time `json:"last_error_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (WaInstance) TableName() string {
	return "wa_instance"
}

// Clone returns a deep copy so cached snapshots never alias store rows.
func (i *WaInstance) Clone() *WaInstance {
	if i == nil {
		return nil
	}
	c := *i
	c.QrcodeGeneratedAt = cloneTime(i.QrcodeGeneratedAt)
	c.QrcodeExpiresAt = cloneTime(i.QrcodeExpiresAt)
	c.ConnectedAt = cloneTime(i.ConnectedAt)
	c.DisconnectedAt = cloneTime(i.DisconnectedAt)
	c.LastErrorAt = cloneTime(i.LastErrorAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
