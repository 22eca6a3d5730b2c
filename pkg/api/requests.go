package api

// submitEventRequest is the collector's event payload.
type submitEventRequest struct {
	DeviceID       string `json:"device_id"`
	ChatRoom       string `json:"chat_room"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text"`
	ReceivedAt     string `json:"received_at"`
	NotificationID string `json:"notification_id"`
}

// heartbeatRequest is the collector's liveness ping.
type heartbeatRequest struct {
	DeviceID string `json:"device_id"`
	TS       string `json:"ts"`
}

// loginRequest is the dashboard credential payload.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// patchTicketRequest carries operator ticket edits.
type patchTicketRequest struct {
	Status     *string `json:"status"`
	Priority   *string `json:"priority"`
	NextAction *string `json:"next_action"`
	NeedsReply *bool   `json:"needs_reply"`
}

// createUserRequest is the admin's new-account payload.
type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}
