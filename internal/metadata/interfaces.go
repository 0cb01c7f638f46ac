package metadata

import (
	"time"
)

// Reader is the interface for reading image metadata.
type Reader interface {
	Read(filePath string) (*Metadata, error)
	SupportsFile(filePath string) bool
}

// Source identifies which backend produced the metadata.
type Source int

const (
	SourceUnknown Source = iota
	SourceGoExif
	SourceExiftool
)

// Metadata contains the fields the inspect command reports.
type Metadata struct {
	DateTaken   *time.Time
	CameraMake  string
	CameraModel string
	Orientation int
	Software    string
	Source      Source
	Fields      map[string]string
}

// String returns a human-readable name of the metadata source.
func (s Source) String() string {
	switch s {
	case SourceGoExif:
		return "goexif"
	case SourceExiftool:
		return "exiftool"
	default:
		return "Unknown"
	}
}

// HasDate reports whether a capture date was found.
func (m *Metadata) HasDate() bool {
	return m != nil && m.DateTaken != nil && !m.DateTaken.IsZero()
}
