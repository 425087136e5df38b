package httpapi

import "strings"

// chatIcons is the finite cycle a materializing conversation draws from; the
// placeholder marks conversations that have not received a message yet.
var chatIcons = []string{"📄", "💡", "⚙️", "💬", "🧠", "🚀", "✨"}

const (
	placeholderTitle = "New Conversation"
	placeholderIcon  = "📝"
	titleWordLimit   = 3
	fallbackTitle    = "Chat"
)

func iconForIndex(index int) string {
	return chatIcons[index%len(chatIcons)]
}

// deriveTitle takes the first few words of the first user message.
func deriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > titleWordLimit {
		words = words[:titleWordLimit]
	}
	title := strings.Join(words, " ")
	if title == "" {
		return fallbackTitle
	}
	return title
}
