package metadata

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var supportedExts = []string{".jpg", ".jpeg", ".jpe", ".tif", ".tiff"}

// EXIFReader reads EXIF metadata with the rwcarlsen/goexif library.
type EXIFReader struct {
	fs     afero.Fs
	logger *logrus.Logger
}

// NewEXIFReader returns a new EXIFReader.
func NewEXIFReader(fs afero.Fs, logger *logrus.Logger) *EXIFReader {
	return &EXIFReader{fs: fs, logger: logger}
}

// SupportsFile reports whether the file is supported by this reader.
func (e *EXIFReader) SupportsFile(filePath string) bool {
	return slices.Contains(supportedExts, strings.ToLower(filepath.Ext(filePath)))
}

// Read decodes the EXIF block of filePath.
func (e *EXIFReader) Read(filePath string) (*Metadata, error) {
	if !e.SupportsFile(filePath) {
		return nil, fmt.Errorf("file type not supported by reader: %s", filePath)
	}

	file, err := e.fs.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	md := &Metadata{Source: SourceGoExif, Fields: make(map[string]string)}

	if tm, err := x.DateTime(); err == nil {
		e.logger.Debugf("Extracted DateTime from EXIF: %v for file %s", tm, filePath)
		md.DateTaken = &tm
	} else if field, err := x.Get(exif.DateTimeDigitized); err == nil {
		if dateStr, err := field.StringVal(); err == nil {
			md.DateTaken = parseEXIFDateTime(dateStr)
		}
	}

	md.CameraMake = stringTag(x, exif.Make)
	md.CameraModel = stringTag(x, exif.Model)
	md.Software = stringTag(x, exif.Software)
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			md.Orientation = v
		}
	}

	for name, value := range map[string]string{
		"Make":     md.CameraMake,
		"Model":    md.CameraModel,
		"Software": md.Software,
	} {
		if value != "" {
			md.Fields[name] = value
		}
	}

	return md, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}

// ExiftoolReader reads metadata through a running exiftool process.
type ExiftoolReader struct {
	et     *exiftool.Exiftool
	logger *logrus.Logger
}

// NewExiftoolReader starts exiftool. It fails when the binary is not installed.
func NewExiftoolReader(logger *logrus.Logger) (*ExiftoolReader, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolReader{et: et, logger: logger}, nil
}

// SupportsFile reports whether the file is supported by this reader.
func (r *ExiftoolReader) SupportsFile(filePath string) bool {
	return slices.Contains(supportedExts, strings.ToLower(filepath.Ext(filePath)))
}

// Read extracts all metadata exiftool knows about filePath.
func (r *ExiftoolReader) Read(filePath string) (*Metadata, error) {
	files := r.et.ExtractMetadata(filePath)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", filePath)
	}
	if files[0].Err != nil {
		return nil, files[0].Err
	}

	fm := files[0]
	md := &Metadata{Source: SourceExiftool, Fields: make(map[string]string, len(fm.Fields))}
	for k, v := range fm.Fields {
		md.Fields[k] = fmt.Sprint(v)
	}

	for _, key := range []string{"DateTimeOriginal", "CreateDate", "ModifyDate"} {
		if s, err := fm.GetString(key); err == nil {
			if date := parseEXIFDateTime(s); date != nil {
				md.DateTaken = date
				break
			}
		}
	}
	md.CameraMake, _ = fm.GetString("Make")
	md.CameraModel, _ = fm.GetString("Model")
	md.Software, _ = fm.GetString("Software")
	if v, err := fm.GetInt("Orientation"); err == nil {
		md.Orientation = int(v)
	}

	r.logger.Debugf("exiftool returned %d fields for %s", len(md.Fields), filePath)
	return md, nil
}

// Close stops the exiftool process.
func (r *ExiftoolReader) Close() error {
	return r.et.Close()
}

// ChainReader asks each reader in turn and returns the first success.
type ChainReader struct {
	readers []Reader
}

// NewChainReader returns a reader over readers, in priority order.
func NewChainReader(readers ...Reader) *ChainReader {
	return &ChainReader{readers: readers}
}

// SupportsFile reports whether any reader supports the file.
func (c *ChainReader) SupportsFile(filePath string) bool {
	for _, r := range c.readers {
		if r.SupportsFile(filePath) {
			return true
		}
	}
	return false
}

// Read returns the first successful result; on total failure the errors are joined.
func (c *ChainReader) Read(filePath string) (*Metadata, error) {
	var errs []error
	for _, r := range c.readers {
		if !r.SupportsFile(filePath) {
			continue
		}
		md, err := r.Read(filePath)
		if err == nil {
			return md, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("file type not supported by reader: %s", filePath)
	}
	return nil, errors.Join(errs...)
}

// NewDefaultReader prefers exiftool and falls back to goexif when it is unavailable.
// The returned func releases the exiftool process.
func NewDefaultReader(fs afero.Fs, logger *logrus.Logger) (Reader, func()) {
	goexif := NewEXIFReader(fs, logger)

	et, err := NewExiftoolReader(logger)
	if err != nil {
		logger.Debugf("exiftool unavailable, using goexif only: %v", err)
		return goexif, func() {}
	}
	return NewChainReader(et, goexif), func() { _ = et.Close() }
}

// parseEXIFDateTime parses an EXIF date time string.
// Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006:01:02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, strings.TrimSpace(dateStr)); err == nil {
			return &date
		}
	}
	return nil
}
