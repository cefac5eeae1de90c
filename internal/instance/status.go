package instance

import (
	"strings"

	"github.com/talkincode/evopanel/internal/domain"
)

// UIStatus is the single console-facing connection state derived from
// the cached record and the immediate QR override. It is never stored.
type UIStatus string

const (
	StatusNoInstance   UIStatus = "no_instance"
	StatusAwaitingQR   UIStatus = "awaiting_qr"
	StatusConnecting   UIStatus = "connecting"
	StatusConnected    UIStatus = "connected"
	StatusDisconnected UIStatus = "disconnected"
	StatusError        UIStatus = "error"
)

// DeriveStatus maps the merged state onto a UIStatus. The rule order is
// load-bearing: a fresh QR returned by an action call wins until the
// record itself reports an open connection, and an open connection wins
// over any stale pairing material still sitting on the row.
func DeriveStatus(rec *domain.WaInstance, immediateQR string, lastErr error) UIStatus {
	if immediateQR != "" && (rec == nil || rec.ConnectionState != domain.ConnStateOpen) {
		return StatusAwaitingQR
	}

	if rec == nil {
		return StatusNoInstance
	}
	if rec.ConnectionState == domain.ConnStateOpen {
		return StatusConnected
	}
	if rec.ConnectionState == domain.ConnStateConnecting {
		return StatusConnecting
	}
	if rec.QrcodeBase64 != "" && rec.ConnectionState == domain.ConnStateClose {
		return StatusAwaitingQR
	}
	if rec.Status == domain.InstanceStatusError || rec.LastError != "" || lastErr != nil {
		return StatusError
	}
	return StatusDisconnected
}

// FormatPhoneNumber renders a connected number for display. Brazilian
// 13-digit numbers get the +55 (XX) XXXXX-XXXX layout, anything else at
// least 10 digits gets a generic +CC prefix, shorter values pass through.
func FormatPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if len(cleaned) == 13 && strings.HasPrefix(cleaned, "55") {
		return "+55 (" + cleaned[2:4] + ") " + cleaned[4:9] + "-" + cleaned[9:]
	}
	if len(cleaned) >= 10 {
		return "+" + cleaned[:2] + " " + cleaned[2:]
	}
	return phone
}
