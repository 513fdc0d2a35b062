package datatypes

// DocumentClass is the Weaviate class holding the pre-built knowledge
// chunks about Benedict.
const DocumentClass = "Document"

// DocumentChunk is one retrieved unit of text from the vector index.
// Chunks are kept in the order the index returned them.
type DocumentChunk struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}
