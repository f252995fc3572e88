package store

import (
	"database/sql"
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// Vector index backends.
const (
	BackendLocal  = "local"
	BackendQdrant = "qdrant"
)

// NewVectorIndex returns the configured backend. Local graphs are written
// under vectorsDir.
func NewVectorIndex(cfg config.VectorsConfig, db *sql.DB, vectorsDir string) (VectorIndex, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocalIndex(db, vectorsDir)
	case BackendQdrant:
		return NewQdrantIndex(cfg)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
