package compressor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
)

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct {
	fs afero.Fs
}

// NewDefaultCompressor creates a new DefaultCompressor working on fs.
func NewDefaultCompressor(fs afero.Fs) *DefaultCompressor {
	return &DefaultCompressor{fs: fs}
}

// CompressFile decodes the image at path, flattens transparency, shrinks it to fit
// the configured bounds and re-encodes it as JPEG over the original.
// The new content is written to a temporary file in the same directory and renamed
// into place, so a failure at any step leaves the original untouched.
func (c *DefaultCompressor) CompressFile(path string, opts Options) (res Result, err error) {
	res = Result{
		Path:      path,
		StartedAt: time.Now(),
	}
	defer func() { res.FinishedAt = time.Now() }()

	if opts.Quality < 1 || opts.Quality > 100 || opts.MaxWidth <= 0 || opts.MaxHeight <= 0 {
		return res, &FileError{Path: path, Op: "options", Err: fmt.Errorf("invalid options %+v", opts)}
	}

	info, err := c.fs.Stat(path)
	if err != nil {
		return res, &FileError{Path: path, Op: "stat", Err: err}
	}
	if info.IsDir() {
		return res, &FileError{Path: path, Op: "stat", Err: errors.New("is a directory")}
	}
	res.OriginalSize = info.Size()

	img, err := c.decode(path)
	if err != nil {
		return res, err
	}

	bounds := img.Bounds()
	res.OriginalWidth, res.OriginalHeight = bounds.Dx(), bounds.Dy()

	img, res.Flattened = flatten(img)

	w, h, resize := FitDimensions(res.OriginalWidth, res.OriginalHeight, opts.MaxWidth, opts.MaxHeight)
	if resize {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
		res.Resized = true
	}
	res.Width, res.Height = w, h

	// a symlinked path is replaced at its target so the link keeps working
	target, err := c.realPath(path)
	if err != nil {
		return res, &FileError{Path: path, Op: "stat", Err: err}
	}

	tmpName, size, err := c.writeTemp(target, img, opts.Quality)
	if err != nil {
		return res, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = c.fs.Remove(tmpName)
		}
	}()

	if opts.SkipIfLarger && size >= res.OriginalSize {
		res.CompressedSize = res.OriginalSize
		res.Width, res.Height = res.OriginalWidth, res.OriginalHeight
		res.Resized = false
		res.KeptOriginal = true
		return res, nil
	}

	if err := c.fs.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return res, &FileError{Path: path, Op: "write", Err: err}
	}
	if err := c.fs.Rename(tmpName, target); err != nil {
		return res, &FileError{Path: path, Op: "rename", Err: err}
	}
	committed = true

	res.CompressedSize = size
	return res, nil
}

func (c *DefaultCompressor) decode(path string) (image.Image, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &FileError{Path: path, Op: "decode", Err: err}
	}
	return img, nil
}

const maxLinkHops = 40

// realPath follows symlinks until it reaches a file that is not a link.
// Filesystems without link support return path as is.
func (c *DefaultCompressor) realPath(path string) (string, error) {
	lstater, ok := c.fs.(afero.Lstater)
	if !ok {
		return path, nil
	}
	reader, ok := c.fs.(afero.LinkReader)
	if !ok {
		return path, nil
	}

	for i := 0; i < maxLinkHops; i++ {
		info, lstatCalled, err := lstater.LstatIfPossible(path)
		if err != nil {
			return "", err
		}
		if !lstatCalled || info.Mode()&os.ModeSymlink == 0 {
			return path, nil
		}
		target, err := reader.ReadlinkIfPossible(path)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		path = target
	}
	return "", fmt.Errorf("too many levels of symbolic links: %s", path)
}

// writeTemp encodes img next to path and returns the temporary name and its size.
func (c *DefaultCompressor) writeTemp(path string, img image.Image, quality int) (string, int64, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := afero.TempFile(c.fs, dir, "."+base+".*.tmp")
	if err != nil {
		return "", 0, &FileError{Path: path, Op: "write", Err: err}
	}
	tmpName := tmp.Name()

	fail := func(op string, err error) (string, int64, error) {
		_ = tmp.Close()
		_ = c.fs.Remove(tmpName)
		return "", 0, &FileError{Path: path, Op: op, Err: err}
	}

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fail("encode", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("write", err)
	}
	if err := tmp.Close(); err != nil {
		_ = c.fs.Remove(tmpName)
		return "", 0, &FileError{Path: path, Op: "write", Err: err}
	}

	info, err := c.fs.Stat(tmpName)
	if err != nil {
		_ = c.fs.Remove(tmpName)
		return "", 0, &FileError{Path: path, Op: "write", Err: err}
	}
	return tmpName, info.Size(), nil
}

// Probe reads only the image header and reports the dimensions compression would produce.
func Probe(fs afero.Fs, path string, maxWidth, maxHeight int) (ImageInfo, error) {
	info := ImageInfo{Path: path}

	st, err := fs.Stat(path)
	if err != nil {
		return info, &FileError{Path: path, Op: "stat", Err: err}
	}
	info.Size = st.Size()

	f, err := fs.Open(path)
	if err != nil {
		return info, &FileError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return info, &FileError{Path: path, Op: "decode", Err: err}
	}
	info.Format = format
	info.Width, info.Height = cfg.Width, cfg.Height
	info.TargetWidth, info.TargetHeight, _ = FitDimensions(cfg.Width, cfg.Height, maxWidth, maxHeight)
	return info, nil
}

// FitDimensions returns the size of a w x h image scaled down to fit maxW x maxH
// with its aspect ratio kept. The limiting side lands exactly on its bound.
// Images already inside the bounds are returned unchanged with resize=false.
func FitDimensions(w, h, maxW, maxH int) (newW, newH int, resize bool) {
	if w <= maxW && h <= maxH {
		return w, h, false
	}

	if float64(w)/float64(h) > float64(maxW)/float64(maxH) {
		newW = maxW
		newH = int(math.Round(float64(h) * float64(maxW) / float64(w)))
	} else {
		newH = maxH
		newW = int(math.Round(float64(w) * float64(maxH) / float64(h)))
	}

	newW = clamp(newW, 1, maxW)
	newH = clamp(newH, 1, maxH)
	return newW, newH, true
}

// flatten composites images that carry a palette or transparency onto white.
func flatten(img image.Image) (image.Image, bool) {
	if _, paletted := img.(*image.Paletted); !paletted && isOpaque(img) {
		return img, false
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0), true
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
