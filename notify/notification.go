// Package notify delivers user notifications to the in-app inbox, the
// real-time channel and, when linked, the user's Telegram chat.
package notify

import "time"

// DataType names the entity a notification points at.
type DataType string

const (
	DataDonatedRequest DataType = "DONATED_REQUEST"
	DataAidRequest     DataType = "AID_REQUEST"
)

type Notification struct {
	ID         string     `json:"id"`
	ReceiverID string     `json:"receiverId"`
	DataType   DataType   `json:"dataType"`
	DataID     string     `json:"dataId"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}
