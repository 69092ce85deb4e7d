package whatsapp

// chatListScript scrapes the chat list in the page context. Rows missing a
// title or preview are skipped; per-row failures never abort the scrape.
const chatListScript = `(() => {
	const rows = document.querySelectorAll('[data-testid="chat"]');
	const chats = [];

	rows.forEach((row) => {
		try {
			const name = row.querySelector('[data-testid="conversation-title"]');
			const last = row.querySelector('[data-testid="last-message"]');

			if (name && last) {
				chats.push({
					name: name.textContent || 'Unknown',
					lastMessage: last.textContent || ''
				});
			}
		} catch (e) {
			// Ignore parsing errors
		}
	});

	return chats.slice(0, 10);
})()`

// decodeChats converts an in-page scrape result into chat summaries.
// The page boundary is untyped, so decoding is best-effort: malformed
// entries are skipped, the result is capped, and nothing ever raises.
func decodeChats(v interface{}) []ChatSummary {
	chats := []ChatSummary{}

	entries, ok := v.([]interface{})
	if !ok {
		return chats
	}

	for _, entry := range entries {
		if len(chats) >= maxChats {
			break
		}

		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}

		name, _ := fields["name"].(string)
		if name == "" {
			continue
		}
		last, _ := fields["lastMessage"].(string)

		chats = append(chats, ChatSummary{Name: name, LastMessage: last})
	}

	return chats
}
