package statistics

import (
	"fmt"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// Statistics accumulates the outcome of one compression run.
// The run is sequential, so no locking is done.
type Statistics struct {
	FilesFound     int64
	FilesProcessed int64
	FilesSkipped   int64
	FilesResized   int64
	FilesFlattened int64
	FilesKept      int64

	OriginalBytes int64
	ResultBytes   int64

	FoldersProcessed int64
	FoldersMissing   int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Folders []*FolderStats
	Errors  []StatError
}

// FolderStats holds the totals of a single folder.
type FolderStats struct {
	Name           string
	Missing        bool
	FilesFound     int64
	FilesProcessed int64
	FilesSkipped   int64
	OriginalBytes  int64
	ResultBytes    int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// FileOutcome is what the batch loop reports for a successfully processed file.
type FileOutcome struct {
	OriginalSize int64
	ResultSize   int64
	Resized      bool
	Flattened    bool
	KeptOriginal bool
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Folders:   make([]*FolderStats, 0),
		Errors:    make([]StatError, 0),
	}
}

// Folder returns the stats entry for name, creating it in first-seen order.
func (s *Statistics) Folder(name string) *FolderStats {
	for _, f := range s.Folders {
		if f.Name == name {
			return f
		}
	}
	f := &FolderStats{Name: name}
	s.Folders = append(s.Folders, f)
	return f
}

// RecordFolderMissing marks a configured folder that does not exist.
func (s *Statistics) RecordFolderMissing(name string) {
	s.Folder(name).Missing = true
	s.FoldersMissing++
}

// RecordFolderProcessed counts an existing folder and the files found in it.
func (s *Statistics) RecordFolderProcessed(name string, filesFound int) {
	f := s.Folder(name)
	f.FilesFound += int64(filesFound)
	s.FilesFound += int64(filesFound)
	s.FoldersProcessed++
}

// RecordSuccess adds one processed file to the folder and run totals.
func (s *Statistics) RecordSuccess(folder string, o FileOutcome) {
	f := s.Folder(folder)
	f.FilesProcessed++
	f.OriginalBytes += o.OriginalSize
	f.ResultBytes += o.ResultSize

	s.FilesProcessed++
	s.OriginalBytes += o.OriginalSize
	s.ResultBytes += o.ResultSize
	if o.Resized {
		s.FilesResized++
	}
	if o.Flattened {
		s.FilesFlattened++
	}
	if o.KeptOriginal {
		s.FilesKept++
	}
}

// RecordFailure counts a skipped file and remembers why it failed.
func (s *Statistics) RecordFailure(folder, filePath, operation string, err error) {
	s.Folder(folder).FilesSkipped++
	s.FilesSkipped++
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

// Finalize stamps the end time and duration.
func (s *Statistics) Finalize() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// BytesSaved returns the total size reduction, negative when files grew.
func (s *Statistics) BytesSaved() int64 {
	return s.OriginalBytes - s.ResultBytes
}

// ReductionPercent returns (1 - result/original) * 100. ok is false when nothing was measured.
func (s *Statistics) ReductionPercent() (pct float64, ok bool) {
	return reduction(s.OriginalBytes, s.ResultBytes)
}

// GetSummary returns a formatted summary of the run.
func (s *Statistics) GetSummary() string {
	var b strings.Builder
	b.WriteString("JPEG Compressor Summary:\n\n")
	fmt.Fprintf(&b, "Files:\n\t\tFound: %d\n\t\tProcessed: %d\n\t\tSkipped: %d\n\t\tResized: %d\n",
		s.FilesFound, s.FilesProcessed, s.FilesSkipped, s.FilesResized)
	if s.FilesFlattened > 0 {
		fmt.Fprintf(&b, "\t\tFlattened: %d\n", s.FilesFlattened)
	}
	if s.FilesKept > 0 {
		fmt.Fprintf(&b, "\t\tKept original: %d\n", s.FilesKept)
	}
	fmt.Fprintf(&b, "\nFolders:\n\t\tProcessed: %d\n\t\tMissing: %d\n", s.FoldersProcessed, s.FoldersMissing)

	b.WriteString("\nSize:\n")
	pct, ok := s.ReductionPercent()
	if !ok {
		b.WriteString("\t\tno files processed\n")
	} else {
		fmt.Fprintf(&b, "\t\tOriginal: %s\n\t\tCompressed: %s\n\t\tSaved: %s (%.1f%%)\n",
			formatBytes(s.OriginalBytes), formatBytes(s.ResultBytes), formatSigned(s.BytesSaved()), pct)
	}

	if s.Duration > 0 {
		fmt.Fprintf(&b, "\nDuration: %v\n", s.Duration.Round(time.Millisecond))
	}
	return b.String()
}

// GetFolderBreakdown returns per-folder totals in configuration order.
func (s *Statistics) GetFolderBreakdown() string {
	if len(s.Folders) == 0 {
		return "No folder statistics available"
	}

	var b strings.Builder
	b.WriteString("Folder Breakdown:\n")
	for _, f := range s.Folders {
		if f.Missing {
			fmt.Fprintf(&b, "  %s: missing, skipped\n", f.Name)
			continue
		}
		pct, ok := reduction(f.OriginalBytes, f.ResultBytes)
		if !ok {
			fmt.Fprintf(&b, "  %s: %d found, no files processed\n", f.Name, f.FilesFound)
			continue
		}
		fmt.Fprintf(&b, "  %s: %d processed, %d skipped, %s -> %s (%.1f%%)\n",
			f.Name, f.FilesProcessed, f.FilesSkipped,
			formatBytes(f.OriginalBytes), formatBytes(f.ResultBytes), pct)
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

func reduction(original, result int64) (float64, bool) {
	if original <= 0 {
		return 0, false
	}
	return (1 - float64(result)/float64(original)) * 100, true
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	if bytes < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

func formatSigned(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
