package pipeline

import "unicode/utf8"

// MaxChunk is the largest message the chat transport delivers in one piece.
const MaxChunk = 4096

// Chunk splits text into pieces of at most max characters, cutting at
// exactly that boundary. The pieces concatenate back to text byte for byte.
func Chunk(text string, max int) []string {
	if max <= 0 {
		max = MaxChunk
	}
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	start, count := 0, 0
	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
		count++
		if count == max {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
