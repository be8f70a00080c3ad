package index

import "strings"

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 1000

// SplitChunks slices text into word-greedy chunks of at most size
// characters. Words longer than size are split mid-word rather than
// producing an oversized chunk. Whitespace-only text yields no chunks.
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, word := range words {
		for len(word) > size {
			flush()
			chunks = append(chunks, word[:size])
			word = word[size:]
		}
		if word == "" {
			continue
		}

		needed := len(word)
		if current.Len() > 0 {
			needed++ // joining space
		}
		if current.Len()+needed > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()

	return chunks
}

// ChunkDocument splits a document's content and assigns chunk IDs.
func ChunkDocument(doc *Document, size int) []*Chunk {
	parts := SplitChunks(doc.Content, size)
	chunks := make([]*Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = &Chunk{
			ID:      ChunkID(doc.ID, i),
			DocID:   doc.ID,
			Index:   i,
			Content: part,
		}
	}
	return chunks
}
