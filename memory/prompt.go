package memory

import (
	"fmt"
	"strings"

	"github.com/becomeliminal/nim-memory/core"
)

// ReflectionSystemPrompt instructs the generator how to judge recalled memories.
const ReflectionSystemPrompt = `You are the reflective memory of a conversational assistant.
You are shown a new user query and memories recalled from earlier conversations,
each with its type and a relevance score between 0 and 1.

Judge each memory:
- Is it consistent with the new query and with the other memories?
- Is it useful for answering the query, or only superficially similar?
- Does it correct or contradict something the assistant said before?

Say plainly which memories should be used for the answer and why, and which
should be ignored. Be concise.`

// InsightSystemPrompt instructs the generator how to condense a reflection.
const InsightSystemPrompt = `You distill reflections into durable insights.
Given a reflection about past memories and the query that triggered it, write
one or two sentences stating a reusable fact, correction or preference about
the query's topic that will help in future conversations.

Reply with the insight only. If the reflection holds nothing worth
remembering, reply with an empty message.`

// BuildReflectionPrompt composes the reflection request for query and memories.
// Each memory is listed with its type and relevance score in recall order.
func BuildReflectionPrompt(query string, memories []Retrieved, maxMemoryLength int) []core.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "New query: %q\n\n", query)
	b.WriteString("Recalled memories:\n")
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Format(maxMemoryLength))
	}
	b.WriteString("\nWhich of these memories are consistent with and useful for answering the new query, and why?")

	return []core.Message{
		core.SystemMessage(ReflectionSystemPrompt),
		core.UserMessage(b.String()),
	}
}

// BuildInsightPrompt composes the insight request for a reflection.
func BuildInsightPrompt(reflection string, query string) []core.Message {
	content := fmt.Sprintf("Query: %q\n\nReflection:\n%s\n\nState the insight.", query, reflection)
	return []core.Message{
		core.SystemMessage(InsightSystemPrompt),
		core.UserMessage(content),
	}
}
