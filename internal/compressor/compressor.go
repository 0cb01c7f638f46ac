package compressor

import (
	"fmt"
	"time"
)

// Options defines parameters for compressing a single image.
type Options struct {
	Quality      int
	MaxWidth     int
	MaxHeight    int
	SkipIfLarger bool
}

// Result describes the outcome of compressing a single file.
type Result struct {
	Path           string
	OriginalSize   int64
	CompressedSize int64
	OriginalWidth  int
	OriginalHeight int
	Width          int
	Height         int
	Resized        bool
	Flattened      bool
	KeptOriginal   bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// BytesSaved returns how many bytes the rewrite removed. Negative when the file grew.
func (r Result) BytesSaved() int64 {
	return r.OriginalSize - r.CompressedSize
}

// PercentageSaved returns the size reduction in percent, 0 for empty originals.
func (r Result) PercentageSaved() float64 {
	if r.OriginalSize <= 0 {
		return 0
	}
	return float64(r.BytesSaved()) * 100 / float64(r.OriginalSize)
}

// ImageInfo describes an image without rewriting it.
type ImageInfo struct {
	Path         string
	Format       string
	Size         int64
	Width        int
	Height       int
	TargetWidth  int
	TargetHeight int
}

// NeedsResize reports whether compression would shrink the image dimensions.
func (i ImageInfo) NeedsResize() bool {
	return i.TargetWidth != i.Width || i.TargetHeight != i.Height
}

// FileError reports a failure to process one file. The original file is left as it was.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Compressor defines the interface for image compression.
type Compressor interface {
	// CompressFile rewrites the file at path in place and reports the size change.
	// Errors are of type *FileError.
	CompressFile(path string, opts Options) (Result, error)
}
