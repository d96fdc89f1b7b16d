package messaging

import "encoding/json"

// MessageFlaggedEvent is published when the safety scanner flags a message
// at send time. The moderation review queue consumes it.
type MessageFlaggedEvent struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Phone     bool   `json:"contains_phone,omitempty"`
	Email     bool   `json:"contains_email,omitempty"`
	UPI       bool   `json:"contains_upi,omitempty"`
	Link      bool   `json:"contains_link,omitempty"`
	Keyword   bool   `json:"contains_keyword,omitempty"`
}

// RoomClosedEvent is published when a room reaches the terminal closed
// status, whether by admin action or context expiry.
type RoomClosedEvent struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// ReportFiledEvent is published when an abuse report is created.
type ReportFiledEvent struct {
	ReportID       string `json:"report_id"`
	RoomID         string `json:"room_id"`
	ReportedUserID string `json:"reported_user_id"`
	ReportType     string `json:"report_type"`
}

// Intent kinds for ModerationIntent.
const (
	IntentUnblock   = "unblock"    // lift a block (overturned appeal)
	IntentUnmute    = "unmute"     // revert a room mute (overturned appeal)
	IntentReopen    = "reopen"     // not supported: rooms never leave closed; logged and dropped
	IntentAutoBlock = "auto_block" // strike threshold crossed: place automatic blocks
	IntentCloseRoom = "close_room" // close a room as a moderation consequence
)

// ModerationIntent is emitted by the moderation ledger when an action or
// appeal decision requires a state change in another component. The ledger
// only states the intent; the moderator worker performs the change through
// the owning store's transitions.
type ModerationIntent struct {
	Kind     string `json:"kind"`
	LogID    string `json:"log_id"`
	UserID   string `json:"user_id,omitempty"`   // target user for block intents
	RoomID   string `json:"room_id,omitempty"`   // target room for room intents
	BlockID  string `json:"block_id,omitempty"`  // block to lift for unblock intents
	Reason   string `json:"reason"`
	Duration int    `json:"duration_minutes,omitempty"`
}

// PublishMessageFlagged publishes ev to the flagged-message subject.
func (c *Client) PublishMessageFlagged(ev MessageFlaggedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.Publish(SubjectMessageFlagged, data)
}

// PublishRoomClosed publishes ev to the room-closed subject.
func (c *Client) PublishRoomClosed(ev RoomClosedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.Publish(SubjectRoomClosed, data)
}

// PublishReportFiled publishes ev to the report-filed subject.
func (c *Client) PublishReportFiled(ev ReportFiledEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.Publish(SubjectReportFiled, data)
}

// PublishModerationIntent publishes intent to the moderation-intent subject.
func (c *Client) PublishModerationIntent(intent ModerationIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return c.Publish(SubjectModerationIntent, data)
}

// SubscribeModerationIntents consumes moderation intents in the given queue
// group. Used by the moderator worker.
func (c *Client) SubscribeModerationIntents(queue string, handler func(intent ModerationIntent)) error {
	return c.QueueSubscribe(SubjectModerationIntent, queue, func(data []byte) {
		var intent ModerationIntent
		if err := json.Unmarshal(data, &intent); err != nil {
			// Malformed intents are dropped, not retried.
			return
		}
		handler(intent)
	})
}
