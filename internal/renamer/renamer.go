package renamer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Action describes what happened to one file.
type Action string

const (
	ActionRenamed   Action = "renamed"
	ActionUnchanged Action = "unchanged"
	ActionConflict  Action = "conflict"
	ActionPlanned   Action = "planned"
)

// Rename is one entry of a rename plan.
type Rename struct {
	From   string
	To     string
	Action Action
}

// Options controls a rename run.
type Options struct {
	Prefix     string
	Extensions []string
	DryRun     bool
}

// Renamer gives the files of a folder sequential names.
type Renamer struct {
	fs     afero.Fs
	logger *logrus.Logger
}

// NewRenamer returns a new Renamer.
func NewRenamer(fs afero.Fs, logger *logrus.Logger) *Renamer {
	return &Renamer{fs: fs, logger: logger}
}

// Rename renames every matching file in folder to <prefix><NNN><ext>, where files are
// numbered in name order, NNN is zero-padded to the width of the file count and ext
// is lowercased. Files already carrying their target name are left alone and targets
// that already exist are never overwritten.
func (r *Renamer) Rename(folder string, opts Options) ([]Rename, error) {
	info, err := r.fs.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("folder not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", folder)
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".jpg", ".jpeg"}
	}

	entries, err := afero.ReadDir(r.fs, folder)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		if hasExtension(e.Name(), exts) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	digits := len(strconv.Itoa(len(names)))
	plan := make([]Rename, 0, len(names))

	for i, name := range names {
		ext := strings.ToLower(filepath.Ext(name))
		newName := fmt.Sprintf("%s%0*d%s", opts.Prefix, digits, i+1, ext)
		entry := Rename{
			From: filepath.Join(folder, name),
			To:   filepath.Join(folder, newName),
		}

		switch {
		case name == newName:
			entry.Action = ActionUnchanged
		case r.exists(entry.To):
			entry.Action = ActionConflict
			r.logger.WithField("file", entry.From).Warnf("Target already exists, skipping: %s", newName)
		case opts.DryRun:
			entry.Action = ActionPlanned
		default:
			if err := r.fs.Rename(entry.From, entry.To); err != nil {
				return plan, fmt.Errorf("rename %s: %w", entry.From, err)
			}
			entry.Action = ActionRenamed
			r.logger.WithField("file", entry.From).Infof("Renamed to %s", newName)
		}
		plan = append(plan, entry)
	}

	return plan, nil
}

func (r *Renamer) exists(path string) bool {
	_, err := r.fs.Stat(path)
	return !os.IsNotExist(err)
}

func hasExtension(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
