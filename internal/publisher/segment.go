package publisher

// ellipsis marks a chunk that continues in the next post.
const ellipsis = "..."

// SplitThread splits text into ordered post-sized chunks. The first
// chunk's budget is reduced by reserved characters (the hashtag
// suffix plus its separator, appended later by the caller); remaining
// text is chunked at the full limit, each non-final chunk truncated
// to limit-3 characters plus an ellipsis. Limits are counted in
// characters, not bytes; byte offsets for rich-text annotations are
// computed separately.
func SplitThread(text string, limit, reserved int) []string {
	firstLimit := limit - reserved

	runes := []rune(text)
	if len(runes) <= firstLimit {
		return []string{text}
	}

	chunks := []string{string(runes[:firstLimit])}
	remaining := runes[firstLimit:]

	for len(remaining) > 0 {
		if len(remaining) <= limit {
			chunks = append(chunks, string(remaining))
			break
		}
		cut := limit - len(ellipsis)
		chunks = append(chunks, string(remaining[:cut])+ellipsis)
		remaining = remaining[cut:]
	}

	return chunks
}

// truncateRunes caps s at n characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
