package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"jpeg-compressor-go/internal/batch"
	"jpeg-compressor-go/internal/compressor"
	"jpeg-compressor-go/internal/config"
	"jpeg-compressor-go/internal/logger"
	"jpeg-compressor-go/internal/metadata"
	"jpeg-compressor-go/internal/renamer"
	"jpeg-compressor-go/internal/statistics"

	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	quality      int
	maxWidth     int
	maxHeight    int
	folders      []string
	baseDir      string
	preset       string
	recursive    bool
	backup       bool
	skipIfLarger bool
	renameDryRun bool
)

// rootCmd compresses the configured folders.
var rootCmd = &cobra.Command{
	Use:   "jpeg-compressor",
	Short: "Shrink and re-encode JPEG images in place",
	Long: `jpeg-compressor walks a set of folders, finds JPEG images and rewrites each
one in place with bounded dimensions and a lower encode quality.

Features:
- Scales images down to fit a maximum width and height, never up
- Re-encodes at a configurable JPEG quality
- Flattens transparent or palette images onto white
- Atomic replacement: a crash never leaves a half-written image
- Optional backup of the originals into <folder>_backup
- Presets for more aggressive compression
- Per-folder and overall size statistics`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd)
	},
}

// scanCmd shows what a run would do without touching any file.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the images a run would process without modifying them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd)
	},
}

// inspectCmd prints dimensions and metadata of one file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show dimensions and EXIF metadata of an image",
	Long: `Shows the image format, dimensions, planned dimensions and EXIF metadata of a file.
exiftool is used when it is installed; otherwise EXIF is decoded in-process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args[0])
	},
}

// renameCmd renames the JPEGs of a folder sequentially.
var renameCmd = &cobra.Command{
	Use:   "rename <folder> <prefix>",
	Short: "Rename all JPEGs in a folder to <prefix><number>.jpg",
	Long: `Renames every JPEG in the folder, sorted by name, to <prefix><NNN><ext>.
Numbers are zero-padded to the width of the file count and extensions are lowercased.
Existing files are never overwritten.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRename(cmd, args[0], args[1])
	},
}

// presetsCmd lists the available presets.
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List compression presets",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUALITY\tMAX SIZE\tDESCRIPTION")
		for _, p := range config.GetAvailablePresets() {
			fmt.Fprintf(w, "%s\t%d\t%dx%d\t%s\n", p.ID, p.Quality, p.MaxWidth, p.MaxHeight, p.Description)
		}
		_ = w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	addSizeFlags(rootCmd)
	addFolderFlags(rootCmd)
	rootCmd.Flags().BoolVar(&backup, "backup", false, "copy originals to <folder>_backup before compressing")
	rootCmd.Flags().BoolVar(&skipIfLarger, "skip-if-larger", false, "keep the original when re-encoding does not shrink it")

	addSizeFlags(scanCmd)
	addFolderFlags(scanCmd)

	addSizeFlags(inspectCmd)

	renameCmd.Flags().BoolVar(&renameDryRun, "dry-run", false, "show the renames without performing them")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(presetsCmd)
}

// addSizeFlags registers the encode settings on cmd.
func addSizeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&quality, "quality", 65, "JPEG encode quality (1-100)")
	cmd.Flags().IntVar(&maxWidth, "max-width", 600, "maximum output width in pixels")
	cmd.Flags().IntVar(&maxHeight, "max-height", 600, "maximum output height in pixels")
	cmd.Flags().StringVar(&preset, "preset", "", "compression preset (see 'presets')")
}

// addFolderFlags registers the folder selection on cmd.
func addFolderFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&folders, "folders", []string{"muffin", "chihuahua"}, "folder names to process")
	cmd.Flags().StringVar(&baseDir, "base-dir", ".", "directory the folder names are relative to")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "also process images in subdirectories")
}

// runCompress executes the compression run.
func runCompress(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	fs := afero.NewOsFs()
	stats := statistics.NewStatistics()
	comp := compressor.NewDefaultCompressor(fs)
	runner := batch.NewBatchCompressor(cfg, fs, log, stats, comp)

	runErr := runner.Run()

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println(stats.GetFolderBreakdown())
		if len(stats.Errors) > 0 {
			fmt.Println(stats.GetErrorSummary())
		}
	}

	if runErr != nil {
		return fmt.Errorf("compression failed: %w", runErr)
	}
	return nil
}

// runScan lists the files and their planned dimensions.
func runScan(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	fs := afero.NewOsFs()
	stats := statistics.NewStatistics()
	runner := batch.NewBatchCompressor(cfg, fs, log, stats, compressor.NewDefaultCompressor(fs))

	entries, scanErr := runner.Scan()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSIZE\tCURRENT\tPLANNED")
	var total int64
	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(w, "%s\t%s\tunreadable\t%v\n", e.Info.Path, humanize.IBytes(uint64(e.Info.Size)), e.Err)
			continue
		}
		total += e.Info.Size
		planned := "unchanged"
		if e.Info.NeedsResize() {
			planned = fmt.Sprintf("%dx%d", e.Info.TargetWidth, e.Info.TargetHeight)
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\n",
			e.Info.Path, humanize.IBytes(uint64(e.Info.Size)), e.Info.Width, e.Info.Height, planned)
	}
	_ = w.Flush()

	fmt.Printf("\n%d files, %s in %d folders (%d missing)\n",
		len(entries), humanize.IBytes(uint64(total)), stats.FoldersProcessed, stats.FoldersMissing)

	if scanErr != nil {
		return fmt.Errorf("scan failed: %w", scanErr)
	}
	return nil
}

// runInspect prints dimensions and metadata for a single file.
func runInspect(cmd *cobra.Command, filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	fs := afero.NewOsFs()

	info, err := compressor.Probe(fs, filePath, cfg.MaxWidth, cfg.MaxHeight)
	if err != nil {
		return err
	}

	fmt.Printf("File:       %s\n", filePath)
	fmt.Printf("Format:     %s\n", info.Format)
	fmt.Printf("Size:       %s\n", humanize.IBytes(uint64(info.Size)))
	fmt.Printf("Dimensions: %dx%d\n", info.Width, info.Height)
	if info.NeedsResize() {
		fmt.Printf("Planned:    %dx%d (max %dx%d)\n", info.TargetWidth, info.TargetHeight, cfg.MaxWidth, cfg.MaxHeight)
	} else {
		fmt.Printf("Planned:    unchanged (max %dx%d)\n", cfg.MaxWidth, cfg.MaxHeight)
	}

	reader, closeReader := metadata.NewDefaultReader(fs, log)
	defer closeReader()

	md, err := reader.Read(filePath)
	if err != nil {
		fmt.Printf("Metadata:   none (%v)\n", err)
		return nil
	}

	fmt.Printf("Metadata:   via %s\n", md.Source)
	if md.HasDate() {
		fmt.Printf("Taken:      %s\n", md.DateTaken.Format("2006-01-02 15:04:05"))
	}
	if md.CameraMake != "" || md.CameraModel != "" {
		fmt.Printf("Camera:     %s %s\n", md.CameraMake, md.CameraModel)
	}
	if md.Orientation != 0 {
		fmt.Printf("Orientation: %d\n", md.Orientation)
	}
	if md.Software != "" {
		fmt.Printf("Software:   %s\n", md.Software)
	}
	return nil
}

// runRename renames the JPEGs of a folder sequentially.
func runRename(cmd *cobra.Command, folder, prefix string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	r := renamer.NewRenamer(afero.NewOsFs(), log)
	plan, err := r.Rename(folder, renamer.Options{
		Prefix:     prefix,
		Extensions: cfg.Extensions,
		DryRun:     renameDryRun,
	})
	if err != nil {
		return fmt.Errorf("rename failed: %w", err)
	}

	if len(plan) == 0 {
		fmt.Println("No JPEG files found in folder.")
		return nil
	}

	counts := make(map[renamer.Action]int)
	for _, p := range plan {
		counts[p.Action]++
		if !quiet && p.Action != renamer.ActionUnchanged {
			fmt.Printf("%-9s %s -> %s\n", p.Action, p.From, p.To)
		}
	}
	fmt.Printf("\n%d renamed, %d planned, %d unchanged, %d conflicts\n",
		counts[renamer.ActionRenamed], counts[renamer.ActionPlanned],
		counts[renamer.ActionUnchanged], counts[renamer.ActionConflict])
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyOverrides(overridesFromFlags(cmd)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overridesFromFlags turns explicitly set flags into overrides so unset flags
// do not mask values from the config file.
func overridesFromFlags(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("quality") {
		o.Quality = &quality
	}
	if changed("max-width") {
		o.MaxWidth = &maxWidth
	}
	if changed("max-height") {
		o.MaxHeight = &maxHeight
	}
	if changed("folders") {
		o.Folders = folders
	}
	if changed("base-dir") {
		o.BaseDirectory = &baseDir
	}
	if changed("preset") {
		o.Preset = &preset
	}
	if changed("recursive") {
		o.Recursive = &recursive
	}
	if changed("backup") {
		o.Backup = &backup
	}
	if changed("skip-if-larger") {
		o.SkipIfLarger = &skipIfLarger
	}
	return o
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    true,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
