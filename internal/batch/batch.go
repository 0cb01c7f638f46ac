package batch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"jpeg-compressor-go/internal/compressor"
	"jpeg-compressor-go/internal/config"
	"jpeg-compressor-go/internal/logger"
	"jpeg-compressor-go/internal/statistics"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrNoFolders is returned when none of the configured folders exist.
var ErrNoFolders = errors.New("no configured folders exist")

// BatchCompressor compresses every JPEG in the configured folders, one file at a time.
type BatchCompressor struct {
	config     *config.Config
	fs         afero.Fs
	logger     *logrus.Logger
	stats      *statistics.Statistics
	compressor compressor.Compressor
}

// ScanEntry describes what a run would do to one file.
type ScanEntry struct {
	Folder string
	Info   compressor.ImageInfo
	Err    error
}

// NewBatchCompressor returns a new BatchCompressor.
func NewBatchCompressor(
	cfg *config.Config,
	fs afero.Fs,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	comp compressor.Compressor,
) *BatchCompressor {
	return &BatchCompressor{
		config:     cfg,
		fs:         fs,
		logger:     logger,
		stats:      stats,
		compressor: comp,
	}
}

// Run processes all configured folders in order.
// Per-file failures are recorded and skipped; only a run where no folder exists fails.
func (b *BatchCompressor) Run() error {
	b.logger.WithFields(logrus.Fields{
		"quality":    b.config.Quality,
		"max_width":  b.config.MaxWidth,
		"max_height": b.config.MaxHeight,
		"folders":    b.config.Folders,
	}).Info("Starting compression run")
	defer b.stats.Finalize()

	opts := compressor.Options{
		Quality:      b.config.Quality,
		MaxWidth:     b.config.MaxWidth,
		MaxHeight:    b.config.MaxHeight,
		SkipIfLarger: b.config.SkipIfLarger,
	}

	for _, folder := range b.config.Folders {
		dir, ok := b.resolveFolder(folder)
		if !ok {
			continue
		}

		files, err := b.discoverFiles(dir)
		if err != nil {
			// the folder existed a moment ago; treat an unreadable one like a missing one
			logger.WithFolder(b.logger, folder).Warnf("Cannot read folder, skipping: %v", err)
			b.stats.RecordFolderMissing(folder)
			continue
		}
		b.stats.RecordFolderProcessed(folder, len(files))

		if len(files) == 0 {
			logger.WithFolder(b.logger, folder).Info("No JPEG files found in folder")
			continue
		}

		if b.config.Backup {
			if err := b.backupFolder(folder, dir, files); err != nil {
				logger.WithFolder(b.logger, folder).Errorf("Backup failed, skipping folder: %v", err)
				for _, f := range files {
					b.stats.RecordFailure(folder, f, "backup", err)
				}
				continue
			}
		}

		b.processFolder(folder, files, opts)
	}

	if b.stats.FoldersProcessed == 0 {
		return fmt.Errorf("%w: %v", ErrNoFolders, b.config.Folders)
	}
	return nil
}

// Scan lists the files a run would touch together with their planned dimensions.
func (b *BatchCompressor) Scan() ([]ScanEntry, error) {
	var entries []ScanEntry

	for _, folder := range b.config.Folders {
		dir, ok := b.resolveFolder(folder)
		if !ok {
			continue
		}

		files, err := b.discoverFiles(dir)
		if err != nil {
			logger.WithFolder(b.logger, folder).Warnf("Cannot read folder, skipping: %v", err)
			b.stats.RecordFolderMissing(folder)
			continue
		}
		b.stats.RecordFolderProcessed(folder, len(files))

		for _, path := range files {
			info, err := compressor.Probe(b.fs, path, b.config.MaxWidth, b.config.MaxHeight)
			entries = append(entries, ScanEntry{Folder: folder, Info: info, Err: err})
		}
	}

	b.stats.Finalize()
	if b.stats.FoldersProcessed == 0 {
		return entries, fmt.Errorf("%w: %v", ErrNoFolders, b.config.Folders)
	}
	return entries, nil
}

func (b *BatchCompressor) processFolder(folder string, files []string, opts compressor.Options) {
	log := logger.WithFolder(b.logger, folder)
	log.Infof("Processing %d files", len(files))

	folderStats := b.stats.Folder(folder)

	for i, path := range files {
		res, err := b.compressor.CompressFile(path, opts)
		if err != nil {
			op := "compress"
			var fileErr *compressor.FileError
			if errors.As(err, &fileErr) {
				op = fileErr.Op
			}
			b.stats.RecordFailure(folder, path, op, err)
			logger.WithFileOperation(b.logger, path, op).Warnf("Skipping file: %v", err)
		} else {
			b.stats.RecordSuccess(folder, statistics.FileOutcome{
				OriginalSize: res.OriginalSize,
				ResultSize:   res.CompressedSize,
				Resized:      res.Resized,
				Flattened:    res.Flattened,
				KeptOriginal: res.KeptOriginal,
			})
			logger.WithFile(b.logger, path).WithFields(logrus.Fields{
				"original_size":   res.OriginalSize,
				"compressed_size": res.CompressedSize,
				"width":           res.Width,
				"height":          res.Height,
				"saved_percent":   fmt.Sprintf("%.1f", res.PercentageSaved()),
				"kept_original":   res.KeptOriginal,
			}).Debug("Compressed file")
		}

		if n := b.config.ProgressInterval; n > 0 && (i+1)%n == 0 {
			log.WithFields(logrus.Fields{
				"done":        i + 1,
				"total":       len(files),
				"saved_bytes": folderStats.OriginalBytes - folderStats.ResultBytes,
			}).Info("Progress")
		}
	}

	log.WithFields(logrus.Fields{
		"processed":      folderStats.FilesProcessed,
		"skipped":        folderStats.FilesSkipped,
		"original_bytes": folderStats.OriginalBytes,
		"result_bytes":   folderStats.ResultBytes,
	}).Info("Folder done")
}

// resolveFolder maps a folder name onto the base directory and checks it exists.
func (b *BatchCompressor) resolveFolder(folder string) (string, bool) {
	dir := filepath.Join(b.config.BaseDirectory, folder)
	info, err := b.fs.Stat(dir)
	if err != nil || !info.IsDir() {
		logger.WithFolder(b.logger, folder).Warnf("Folder does not exist, skipping: %s", dir)
		b.stats.RecordFolderMissing(folder)
		return "", false
	}
	return dir, true
}

// discoverFiles finds the supported files in dir, sorted by path.
func (b *BatchCompressor) discoverFiles(dir string) ([]string, error) {
	var files []string

	if !b.config.Recursive {
		entries, err := afero.ReadDir(b.fs, dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if !b.config.IsSupportedExtension(filepath.Ext(path)) || !b.isRegular(path, e) {
				continue
			}
			files = append(files, path)
		}
		sort.Strings(files)
		return files, nil
	}

	err := afero.Walk(b.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			b.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}
		if info.IsDir() || !b.config.IsSupportedExtension(filepath.Ext(path)) {
			return nil
		}
		if b.isRegular(path, info) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// isRegular reports whether path is a regular file. Directory listings do not follow
// symlinks, so a link is resolved and accepted when it points at a regular file.
func (b *BatchCompressor) isRegular(path string, info os.FileInfo) bool {
	if info.Mode()&os.ModeSymlink == 0 {
		return info.Mode().IsRegular()
	}
	target, err := b.fs.Stat(path)
	if err != nil {
		logger.WithFile(b.logger, path).Debugf("Skipping broken symlink: %v", err)
		return false
	}
	if !target.Mode().IsRegular() {
		logger.WithFile(b.logger, path).Debug("Skipping symlink to non-regular file")
		return false
	}
	return true
}

// backupFolder copies files into <folder>_backup next to dir.
// Files already present in the backup are left alone so the first copy of an original
// is never overwritten; files missing from it, such as after an interrupted backup, are
// copied before anything is compressed.
func (b *BatchCompressor) backupFolder(folder, dir string, files []string) error {
	backupDir := filepath.Join(filepath.Dir(dir), filepath.Base(dir)+"_backup")
	if err := b.fs.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	copied, present := 0, 0
	for _, src := range files {
		rel, err := filepath.Rel(dir, src)
		if err != nil {
			return err
		}
		dst := filepath.Join(backupDir, rel)
		if _, err := b.fs.Stat(dst); err == nil {
			present++
			continue
		}
		if err := b.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("create backup dir: %w", err)
		}
		if err := copyFile(b.fs, src, dst); err != nil {
			return fmt.Errorf("backup %s: %w", src, err)
		}
		copied++
	}

	logger.WithFolder(b.logger, folder).WithFields(logrus.Fields{
		"copied":  copied,
		"present": present,
	}).Infof("Backup ready in %s", backupDir)
	return nil
}

// copyFile copies src to dst through a temporary file in dst's directory, keeping the
// permission bits. dst only appears once its content is complete.
func copyFile(fs afero.Fs, src, dst string) (err error) {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(fs, filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = fs.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = fs.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	return fs.Rename(tmp.Name(), dst)
}
