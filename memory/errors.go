package memory

import "errors"

var (
	// ErrEmbeddingUnavailable indicates the embedding model could not be reached.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrStoreUnavailable indicates the vector store failed to serve a request.
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrDuplicateID is returned by Store.Upsert when the unit id already exists.
	ErrDuplicateID = errors.New("duplicate memory id")

	// ErrNotFound is returned by Store.Get for unknown ids.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidQuery is returned for empty or whitespace-only queries.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidUnit is returned when a unit is missing required fields.
	ErrInvalidUnit = errors.New("invalid memory unit")
)
