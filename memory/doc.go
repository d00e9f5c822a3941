// Package memory provides a persistent, reflective memory layer for
// conversational agents.
//
// Conversation turns and derived insights are stored as immutable,
// embedding-indexed Units shared by every session. For each new query the
// pipeline runs recall, reflect and extract:
//
//   - RecallEngine: embeds the query and ranks the nearest stored units
//   - ReflectionEngine: asks a generator which recalled memories are usable
//   - InsightExtractor: condenses the reflection into a reusable insight
//
// Empty inputs short-circuit: an empty store recalls nothing, no memories
// means no reflection, no reflection means no insight. None of these paths
// call the generator.
//
// Architecture:
//   - Store: vector storage backend (chromem-go on disk, pgvector for production)
//   - Embedder: text-to-vector conversion (Ollama/OpenAI API, local ONNX model)
//   - core.Generator: text generation (Anthropic, OpenAI-compatible APIs)
//
// The engine package owns sessions and persists each turn back into the Store.
package memory
