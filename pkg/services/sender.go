package services

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/motionlabs/cswatch/pkg/models"
)

// staffSenderPattern matches the staff naming convention used in the client
// chat rooms. The capture group is the staff member's name.
var staffSenderPattern = regexp.MustCompile(`^\[모션랩스_(.+)\]$`)

// ClassifySender derives the sender class from the display name.
func ClassifySender(senderName string) models.SenderClass {
	m := staffSenderPattern.FindStringSubmatch(senderName)
	if m == nil {
		return models.SenderClass{}
	}
	return models.SenderClass{Staff: true, StaffMember: m[1]}
}

// hashSeparator keeps room, sender, and text from colliding across field
// boundaries.
const hashSeparator = "\x01"

// EventTextHash computes the dedup hash over room, sender, and text.
func EventTextHash(chatRoom, senderName, textRaw string) string {
	h := sha256.New()
	h.Write([]byte(chatRoom))
	h.Write([]byte(hashSeparator))
	h.Write([]byte(senderName))
	h.Write([]byte(hashSeparator))
	h.Write([]byte(textRaw))
	return hex.EncodeToString(h.Sum(nil))
}

// BucketTimestamp floors receivedAt to the dedup window.
func BucketTimestamp(receivedAt time.Time, window time.Duration) time.Time {
	return receivedAt.UTC().Truncate(window)
}
