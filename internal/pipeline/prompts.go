package pipeline

import "strings"

const (
	// FallbackReply is sent whenever reply generation fails.
	FallbackReply = "I'm sorry, I'm having a bit of trouble thinking clearly right now. Can you repeat that?"

	// NoContextPlaceholder stands in for the memory context when nothing relevant was found.
	NoContextPlaceholder = "No specific past context found for this topic."

	semanticHeader = "Important facts I know about the user:"
	episodicHeader = "Relevant snippets from our past talks:"

	personaPrompt = "You are a compassionate and helpful CBT therapist assistant. " +
		"Your goal is to guide the user through their emotional challenges using Cognitive Behavioral Therapy. " +
		"Be empathetic, non-judgmental, and focused on helping them identify and challenge negative thought patterns.\n\n" +
		"### CONTEXT FROM PAST CONVERSATIONS ###\n"

	personaClosing = "\n\nUse this context to be more personal, but don't force it if it's not relevant. " +
		"Keep responses concise and suitable for a mobile chat interface."

	extractionPrompt = "Analyze the user's message and extract any personal facts, preferences, or goals. " +
		"Return ONLY a bulleted list of facts, or 'NONE'.\n" +
		"User said: "
)

// SystemPrompt renders the persona instruction around a memory context block.
func SystemPrompt(memoryContext string) string {
	return personaPrompt + memoryContext + personaClosing
}

// FormatContext renders retrieved memories into the context block.
func FormatContext(semantic, episodic []string) string {
	var parts []string
	if len(semantic) > 0 {
		parts = append(parts, bulleted(semanticHeader, semantic))
	}
	if len(episodic) > 0 {
		parts = append(parts, bulleted(episodicHeader, episodic))
	}
	if len(parts) == 0 {
		return NoContextPlaceholder
	}
	return strings.Join(parts, "\n\n")
}

func bulleted(header string, items []string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
	return b.String()
}

// EpisodeContent is the stored form of one completed exchange.
func EpisodeContent(user, assistant string) string {
	return "User: " + user + "\nAssistant: " + assistant
}

// ParseFacts reads an extraction response: NONE (any case) means no facts,
// otherwise every non-empty line with bullets stripped is one fact.
func ParseFacts(response string) []string {
	text := strings.TrimSpace(response)
	if text == "" || strings.EqualFold(text, "NONE") {
		return nil
	}
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		fact := strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}
