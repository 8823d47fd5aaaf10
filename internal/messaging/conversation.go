package messaging

import (
	"fmt"
	"strconv"
	"strings"
)

const conversationPrefix = "dm"

// ConversationID returns the room identifier for the unordered pair {a, b}.
func ConversationID(a, b int) string {
	lo, hi := min(a, b), max(a, b)
	return fmt.Sprintf("%s:%d:%d", conversationPrefix, lo, hi)
}

// ParseConversationID returns the participants encoded in id, lowest first.
func ParseConversationID(id string) (int, int, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != conversationPrefix {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrValidation, id)
	}

	lo, err := strconv.Atoi(parts[1])
	if err != nil || lo <= 0 {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrValidation, id)
	}
	hi, err := strconv.Atoi(parts[2])
	if err != nil || hi < lo {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrValidation, id)
	}

	return lo, hi, nil
}

// Counterpart returns the other participant of conversation id from userId's
// point of view. It fails with ErrForbidden if userId is not a participant.
func Counterpart(id string, userId int) (int, error) {
	lo, hi, err := ParseConversationID(id)
	if err != nil {
		return 0, err
	}

	switch userId {
	case lo:
		return hi, nil
	case hi:
		return lo, nil
	default:
		return 0, fmt.Errorf("%w: user %d is not a participant of %s", ErrForbidden, userId, id)
	}
}
