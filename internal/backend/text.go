package backend

import "strings"

// splitWordChunks splits text into ordered chunks of at most maxLen
// characters, never breaking inside a word (§4.7 step 6, "word-bounded
// chunks ≤ 80 characters").
func splitWordChunks(text string, maxLen int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var b strings.Builder
	for _, w := range words {
		candidateLen := b.Len() + len(w)
		if b.Len() > 0 {
			candidateLen++ // separating space
		}
		if b.Len() > 0 && candidateLen > maxLen {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// splitSentenceChunks splits text into ordered chunks of at most maxLen
// characters, preferring to break at a sentence boundary (a terminal
// '.', '?', or '!' followed by whitespace) per §4.7 step 7. A sentence
// longer than maxLen is hard-split at maxLen as a last resort.
func splitSentenceChunks(text string, maxLen int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var b strings.Builder
	for _, s := range sentences {
		if len(s) > maxLen {
			if b.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(b.String()))
				b.Reset()
			}
			chunks = append(chunks, hardSplit(s, maxLen)...)
			continue
		}
		candidateLen := b.Len() + len(s)
		if b.Len() > 0 {
			candidateLen++
		}
		if b.Len() > 0 && candidateLen > maxLen {
			chunks = append(chunks, strings.TrimSpace(b.String()))
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	if b.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(b.String()))
	}
	return chunks
}

// splitSentences splits text at a terminal '.', '?', or '!' followed by
// whitespace (or end of string).
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '?', '!':
			isBoundary := i+1 == len(text)
			if !isBoundary && (text[i+1] == ' ' || text[i+1] == '\t' || text[i+1] == '\n') {
				isBoundary = true
			}
			if isBoundary {
				sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
				start = i + 1
			}
		}
	}
	if start < len(text) {
		sentences = append(sentences, strings.TrimSpace(text[start:]))
	}

	out := sentences[:0]
	for _, s := range sentences {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// hardSplit breaks s into fixed-length runs of maxLen when it has no usable
// sentence boundary.
func hardSplit(s string, maxLen int) []string {
	var out []string
	for len(s) > maxLen {
		out = append(out, s[:maxLen])
		s = s[maxLen:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
