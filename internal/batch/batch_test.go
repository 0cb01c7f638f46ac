package batch

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jpeg-compressor-go/internal/compressor"
	"jpeg-compressor-go/internal/config"
	"jpeg-compressor-go/internal/statistics"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + y) % 256),
				G: uint8((x * 2) % 256),
				B: uint8((y * 2) % 256),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

type harness struct {
	fs     afero.Fs
	cfg    *config.Config
	stats  *statistics.Statistics
	logBuf *bytes.Buffer
	batch  *BatchCompressor
}

func newHarness(t *testing.T, folders ...string) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/photos", 0755))

	cfg := config.DefaultConfig()
	cfg.BaseDirectory = "/photos"
	if len(folders) > 0 {
		cfg.Folders = folders
	}
	require.NoError(t, cfg.Validate())

	var logBuf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&logBuf)
	log.SetLevel(logrus.InfoLevel)

	stats := statistics.NewStatistics()
	return &harness{
		fs:     fs,
		cfg:    cfg,
		stats:  stats,
		logBuf: &logBuf,
		batch:  NewBatchCompressor(cfg, fs, log, stats, compressor.NewDefaultCompressor(fs)),
	}
}

func (h *harness) write(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, path, data, 0644))
}

func (h *harness) dims(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := h.fs.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestRun_DefaultsEndToEnd(t *testing.T) {
	h := newHarness(t)
	a := createTestJPEG(t, 1200, 900)
	b := createTestJPEG(t, 400, 300)
	h.write(t, "/photos/muffin/a.jpg", a)
	h.write(t, "/photos/muffin/b.jpg", b)

	require.NoError(t, h.batch.Run())

	w, ht := h.dims(t, "/photos/muffin/a.jpg")
	assert.Equal(t, 600, w)
	assert.Equal(t, 450, ht)

	w, ht = h.dims(t, "/photos/muffin/b.jpg")
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, ht)

	assert.Equal(t, int64(2), h.stats.FilesProcessed)
	assert.Equal(t, int64(0), h.stats.FilesSkipped)
	assert.Equal(t, int64(1), h.stats.FilesResized)
	assert.Equal(t, int64(len(a)+len(b)), h.stats.OriginalBytes)
	assert.Less(t, h.stats.ResultBytes, h.stats.OriginalBytes)

	// chihuahua is a default folder but does not exist here
	assert.Equal(t, int64(1), h.stats.FoldersMissing)
	assert.Contains(t, h.logBuf.String(), "Folder does not exist")
}

func TestRun_OnlyMissingFolder(t *testing.T) {
	h := newHarness(t, "nonexistent")

	err := h.batch.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFolders))

	assert.Equal(t, int64(0), h.stats.FilesProcessed)
	assert.Equal(t, int64(1), h.stats.FoldersMissing)
	assert.Contains(t, h.logBuf.String(), "level=warning")
	assert.Contains(t, h.logBuf.String(), "nonexistent")
	assert.Contains(t, h.stats.GetSummary(), "no files processed")
}

func TestRun_CorruptFileDoesNotStopBatch(t *testing.T) {
	h := newHarness(t, "muffin")
	h.write(t, "/photos/muffin/1-broken.jpg", []byte("not an image"))
	h.write(t, "/photos/muffin/2-good.jpg", createTestJPEG(t, 800, 200))

	require.NoError(t, h.batch.Run())

	assert.Equal(t, int64(1), h.stats.FilesProcessed)
	assert.Equal(t, int64(1), h.stats.FilesSkipped)
	require.Len(t, h.stats.Errors, 1)
	assert.Equal(t, "decode", h.stats.Errors[0].Operation)
	assert.Equal(t, "/photos/muffin/1-broken.jpg", h.stats.Errors[0].FilePath)

	w, _ := h.dims(t, "/photos/muffin/2-good.jpg")
	assert.Equal(t, 600, w)
}

func TestRun_FiltersExtensionsAndIgnoresSubdirectories(t *testing.T) {
	h := newHarness(t, "muffin")
	img := createTestJPEG(t, 10, 10)
	h.write(t, "/photos/muffin/upper.JPG", img)
	h.write(t, "/photos/muffin/mixed.JpEg", img)
	h.write(t, "/photos/muffin/notes.txt", []byte("hello"))
	h.write(t, "/photos/muffin/picture.png", []byte("png-ish"))
	h.write(t, "/photos/muffin/nested/deep.jpg", img)
	require.NoError(t, h.fs.MkdirAll("/photos/muffin/folder.jpg", 0755))

	require.NoError(t, h.batch.Run())

	assert.Equal(t, int64(2), h.stats.FilesFound)
	assert.Equal(t, int64(2), h.stats.FilesProcessed)

	deep, err := afero.ReadFile(h.fs, "/photos/muffin/nested/deep.jpg")
	require.NoError(t, err)
	assert.Equal(t, img, deep)
}

func TestRun_Recursive(t *testing.T) {
	h := newHarness(t, "muffin")
	h.cfg.Recursive = true
	h.write(t, "/photos/muffin/top.jpg", createTestJPEG(t, 10, 10))
	h.write(t, "/photos/muffin/nested/deep.jpg", createTestJPEG(t, 700, 100))

	require.NoError(t, h.batch.Run())

	assert.Equal(t, int64(2), h.stats.FilesProcessed)
	w, _ := h.dims(t, "/photos/muffin/nested/deep.jpg")
	assert.Equal(t, 600, w)
}

func TestRun_BackupCreatedOnce(t *testing.T) {
	h := newHarness(t, "muffin")
	h.cfg.Backup = true
	original := createTestJPEG(t, 900, 900)
	h.write(t, "/photos/muffin/a.jpg", original)

	require.NoError(t, h.batch.Run())

	backup, err := afero.ReadFile(h.fs, "/photos/muffin_backup/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, original, backup)

	compressed, err := afero.ReadFile(h.fs, "/photos/muffin/a.jpg")
	require.NoError(t, err)
	assert.NotEqual(t, original, compressed)

	// a second run must not replace the pristine backup with the compressed file
	h.stats = statistics.NewStatistics()
	h.batch.stats = h.stats
	require.NoError(t, h.batch.Run())

	backup, err = afero.ReadFile(h.fs, "/photos/muffin_backup/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, original, backup)
}

// flakyFs fails creating a temp file for one name in one directory a fixed number of times.
type flakyFs struct {
	afero.Fs
	dir      string
	name     string
	failures int
}

func (f *flakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.failures > 0 && filepath.Dir(name) == f.dir && strings.HasPrefix(filepath.Base(name), "."+f.name+".") {
		f.failures--
		return nil, errors.New("no space left on device")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestRun_BackupCompletedAfterFailedCopy(t *testing.T) {
	h := newHarness(t, "muffin")
	h.cfg.Backup = true
	origA := createTestJPEG(t, 900, 900)
	origB := createTestJPEG(t, 800, 700)
	h.write(t, "/photos/muffin/a.jpg", origA)
	h.write(t, "/photos/muffin/b.jpg", origB)

	run := func(fs afero.Fs) *statistics.Statistics {
		log := logrus.New()
		log.SetOutput(io.Discard)
		stats := statistics.NewStatistics()
		require.NoError(t, NewBatchCompressor(h.cfg, fs, log, stats, compressor.NewDefaultCompressor(fs)).Run())
		return stats
	}

	first := run(&flakyFs{Fs: h.fs, dir: "/photos/muffin_backup", name: "b.jpg", failures: 1})
	assert.Equal(t, int64(0), first.FilesProcessed)
	assert.Equal(t, int64(2), first.FilesSkipped)

	// nothing was compressed and no half-written copy is left behind
	data, err := afero.ReadFile(h.fs, "/photos/muffin/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, origB, data)
	entries, err := afero.ReadDir(h.fs, "/photos/muffin_backup")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.jpg", entries[0].Name())

	second := run(h.fs)
	assert.Equal(t, int64(2), second.FilesProcessed)

	for name, original := range map[string][]byte{"a.jpg": origA, "b.jpg": origB} {
		backup, err := afero.ReadFile(h.fs, "/photos/muffin_backup/"+name)
		require.NoError(t, err, name)
		assert.Equal(t, original, backup, name)

		compressed, err := afero.ReadFile(h.fs, "/photos/muffin/"+name)
		require.NoError(t, err, name)
		assert.NotEqual(t, original, compressed, name)
	}
}

func TestRun_FollowsSymlinkedFiles(t *testing.T) {
	base := t.TempDir()
	fs := afero.NewOsFs()
	require.NoError(t, fs.MkdirAll(filepath.Join(base, "muffin"), 0755))
	require.NoError(t, fs.MkdirAll(filepath.Join(base, "library"), 0755))
	target := filepath.Join(base, "library", "shared.jpg")
	require.NoError(t, afero.WriteFile(fs, target, createTestJPEG(t, 1200, 900), 0644))

	link := filepath.Join(base, "muffin", "shared.jpg")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(base, "missing.jpg"), filepath.Join(base, "muffin", "broken.jpg")))

	cfg := config.DefaultConfig()
	cfg.BaseDirectory = base
	cfg.Folders = []string{"muffin"}
	require.NoError(t, cfg.Validate())

	log := logrus.New()
	log.SetOutput(io.Discard)
	stats := statistics.NewStatistics()
	require.NoError(t, NewBatchCompressor(cfg, fs, log, stats, compressor.NewDefaultCompressor(fs)).Run())

	assert.Equal(t, int64(1), stats.FilesProcessed)
	assert.Equal(t, int64(0), stats.FilesSkipped)

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	f, err := fs.Open(target)
	require.NoError(t, err)
	defer f.Close()
	imgCfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 600, imgCfg.Width)
}

func TestRun_ProgressIsLogged(t *testing.T) {
	h := newHarness(t, "muffin")
	h.cfg.ProgressInterval = 2
	img := createTestJPEG(t, 8, 8)
	for _, name := range []string{"a", "b", "c", "d"} {
		h.write(t, "/photos/muffin/"+name+".jpg", img)
	}

	require.NoError(t, h.batch.Run())

	assert.Equal(t, 2, bytes.Count(h.logBuf.Bytes(), []byte("msg=Progress")))
}

func TestRun_EmptyFolderStillCounts(t *testing.T) {
	h := newHarness(t, "muffin")
	require.NoError(t, h.fs.MkdirAll("/photos/muffin", 0755))

	require.NoError(t, h.batch.Run())
	assert.Equal(t, int64(1), h.stats.FoldersProcessed)
	assert.Equal(t, int64(0), h.stats.FilesFound)
	assert.Contains(t, h.logBuf.String(), "No JPEG files found")
}

func TestScan_DoesNotModifyFiles(t *testing.T) {
	h := newHarness(t, "muffin", "missing")
	original := createTestJPEG(t, 1200, 900)
	h.write(t, "/photos/muffin/a.jpg", original)
	h.write(t, "/photos/muffin/bad.jpg", []byte("junk"))

	entries, err := h.batch.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "/photos/muffin/a.jpg", entries[0].Info.Path)
	assert.NoError(t, entries[0].Err)
	assert.Equal(t, 600, entries[0].Info.TargetWidth)
	assert.Equal(t, 450, entries[0].Info.TargetHeight)
	assert.True(t, entries[0].Info.NeedsResize())
	assert.Error(t, entries[1].Err)

	data, err := afero.ReadFile(h.fs, "/photos/muffin/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assert.Equal(t, int64(1), h.stats.FoldersMissing)
}

type failingCompressor struct{}

func (failingCompressor) CompressFile(path string, _ compressor.Options) (compressor.Result, error) {
	return compressor.Result{Path: path}, errors.New("boom")
}

func TestRun_GenericErrorsAreRecorded(t *testing.T) {
	h := newHarness(t, "muffin")
	h.write(t, "/photos/muffin/a.jpg", createTestJPEG(t, 8, 8))
	h.batch.compressor = failingCompressor{}

	require.NoError(t, h.batch.Run())
	require.Len(t, h.stats.Errors, 1)
	assert.Equal(t, "compress", h.stats.Errors[0].Operation)
	assert.Equal(t, int64(1), h.stats.FilesSkipped)
}
