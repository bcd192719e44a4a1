package models

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentType is the declared format of a catalogued document
type DocumentType string

const (
	DocumentTypePDF      DocumentType = "pdf"
	DocumentTypeDOCX     DocumentType = "docx"
	DocumentTypeMarkdown DocumentType = "markdown"
)

// SupportedDocumentTypes lists every type the extraction pipeline can convert
var SupportedDocumentTypes = []DocumentType{
	DocumentTypePDF,
	DocumentTypeDOCX,
	DocumentTypeMarkdown,
}

// IsSupported reports whether t is one of the convertible document types
func (t DocumentType) IsSupported() bool {
	for _, s := range SupportedDocumentTypes {
		if s == t {
			return true
		}
	}
	return false
}

// DocumentTypeFromPath maps a file extension to a document type.
// Returns an empty type for unknown extensions.
func DocumentTypeFromPath(path string) DocumentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return DocumentTypePDF
	case ".docx":
		return DocumentTypeDOCX
	case ".md", ".markdown":
		return DocumentTypeMarkdown
	default:
		return ""
	}
}

// Document represents a project file owned by the document catalog.
// The extraction pipeline only reads it.
type Document struct {
	ID         string       `json:"id"` // doc_{uuid}
	ProjectID  string       `json:"project_id"`
	FilePath   string       `json:"file_path"`
	Type       DocumentType `json:"type"`
	Size       int64        `json:"size"`     // Declared size in bytes
	Checksum   string       `json:"checksum"` // sha256 hex of file contents
	ModifiedAt time.Time    `json:"modified_at"`
	CreatedAt  time.Time    `json:"created_at"`
}
