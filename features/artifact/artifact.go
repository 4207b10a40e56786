package artifact

import (
	"time"
)

const (
	TypeDocument = "document"
	TypeLink     = "link"
	TypeFile     = "file"
	TypeNote     = "note"
)

const (
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// Artifact is a unit of knowledge content. It is created in processing state
// and moved exactly once to indexed or failed by the ingestion worker;
// terminal states revert only via re-ingestion.
type Artifact struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	Type             string                 `json:"type"`
	URL              string                 `json:"url,omitempty"`
	Content          string                 `json:"content,omitempty"`
	StoragePath      string                 `json:"storage_path,omitempty"`
	Status           string                 `json:"status"`
	Embedding        []float32              `json:"-"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ContentHash      string                 `json:"content_hash,omitempty"`
	ChunkIndex       *int                   `json:"chunk_index,omitempty"`
	ParentArtifactID *string                `json:"parent_artifact_id,omitempty"`
	IndexedAt        *time.Time             `json:"indexed_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func ValidType(t string) bool {
	switch t {
	case TypeDocument, TypeLink, TypeFile, TypeNote:
		return true
	}
	return false
}
