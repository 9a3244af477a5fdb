package messaging

import (
	"sort"

	"github.com/versely/stanza/internal/models"
)

// Aggregate builds the conversation list for userID from one page of that
// user's messages. Messages are grouped by counterpart keeping only the
// newest per group; a group is unread when its newest message is inbound
// and unread. Rows whose counterpart cannot be resolved from join data are
// dropped rather than shown broken.
func Aggregate(userID string, msgs []models.Message) []models.Conversation {
	byOther := make(map[string]models.Conversation)

	for _, msg := range msgs {
		other := msg.Counterpart(userID)
		if other == nil || other.ID == "" {
			continue
		}

		if prev, ok := byOther[other.ID]; ok && !msg.CreatedAt.After(prev.LastMessage.CreatedAt) {
			continue
		}

		byOther[other.ID] = models.Conversation{
			Other:       *other,
			LastMessage: msg,
			Unread:      msg.Inbound(userID) && !msg.Read,
		}
	}

	list := make([]models.Conversation, 0, len(byOther))
	for _, convo := range byOther {
		list = append(list, convo)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].LastMessage.CreatedAt.After(list[j].LastMessage.CreatedAt)
	})

	return list
}
