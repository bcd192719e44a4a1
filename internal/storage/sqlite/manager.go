package sqlite

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db       *SQLiteDB
	attempt  interfaces.AttemptStorage
	artifact interfaces.ArtifactStorage
	document interfaces.DocumentStorage
	logger   arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:       db,
		attempt:  NewAttemptStorage(db, logger),
		artifact: NewArtifactStorage(db, logger),
		document: NewDocumentStorage(db, logger),
		logger:   logger,
	}, nil
}

// AttemptStorage returns the extraction attempt storage interface
func (m *Manager) AttemptStorage() interfaces.AttemptStorage {
	return m.attempt
}

// ArtifactStorage returns the extracted artifact storage interface
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// DocumentStorage returns the Document storage interface
func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.document
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
