// =============================================================================
// Merchant Analytics - File Manager Utility
// =============================================================================
//
// File handling around a pipeline run:
//   - Input discovery by glob pattern
//   - Archival of processed exports and generated reports
//   - Error and summary logs in the output directory
//   - Output file naming
//
// ARCHIVAL STRATEGY:
//   - Input files are moved to input_archive once every period they fed has
//     been merged and stored
//   - Reports are copied to output_archive and stay in the output directory
//   - Failed files remain in the input directory for the next run
//   - An archive name that is already taken gets a timestamp suffix
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the pipeline.
type FileManager struct {
	InputDir         string
	OutputDir        string
	InputArchiveDir  string
	OutputArchiveDir string

	// UseTimestampSubdirs files archives under YYYY/MM/DD subdirectories.
	UseTimestampSubdirs bool

	// ArchiveOnSuccess disables archival when false (dry runs, --no-archive).
	ArchiveOnSuccess bool

	now func() time.Time
}

// NewFileManager creates a FileManager with archival enabled.
func NewFileManager(inputDir, outputDir, inputArchiveDir, outputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:         inputDir,
		OutputDir:        outputDir,
		InputArchiveDir:  inputArchiveDir,
		OutputArchiveDir: outputArchiveDir,
		ArchiveOnSuccess: true,
		now:              time.Now,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates the input, output and archive directories.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.OutputDir, fm.InputArchiveDir, fm.OutputArchiveDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DefaultPatterns matches the spreadsheet exports the pipeline reads.
var DefaultPatterns = []string{"*.xlsx", "*.xls", "*.csv"}

// DiscoverInputFiles returns the regular files in the input directory that
// match any of patterns, sorted and without duplicates. Matching ignores
// case. Office lock files ("~$...") are skipped.
//
// PARAMETERS:
//   - patterns: Glob patterns such as "*.xlsx". None means DefaultPatterns.
//
// RETURNS:
//   - The matching file paths.
//   - An error if a pattern is malformed or the directory cannot be read.
func (fm *FileManager) DiscoverInputFiles(patterns ...string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", p, err)
		}
	}

	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, "~$") {
			continue
		}
		lower := strings.ToLower(name)
		for _, p := range patterns {
			if ok, _ := filepath.Match(strings.ToLower(p), lower); ok {
				files = append(files, filepath.Join(fm.InputDir, name))
				break
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves a processed input file into the input archive.
//
// RETURNS:
//   - The archived path, or filePath unchanged when archival is disabled.
//   - An error if the move fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath, err := fm.archivePath(fm.InputArchiveDir, filePath)
	if err != nil {
		return "", err
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// ArchiveOutputFile copies a report into the output archive. The report
// stays in the output directory.
func (fm *FileManager) ArchiveOutputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath, err := fm.archivePath(fm.OutputArchiveDir, filePath)
	if err != nil {
		return "", err
	}

	if err := copyFile(filePath, archivePath); err != nil {
		return "", fmt.Errorf("failed to copy file to archive: %w", err)
	}
	return archivePath, nil
}

// archivePath picks a free destination for filePath under archiveDir and
// creates its directory.
func (fm *FileManager) archivePath(archiveDir, filePath string) (string, error) {
	now := fm.clock()
	dir := archiveDir
	if fm.UseTimestampSubdirs {
		dir = filepath.Join(archiveDir, now.Format("2006"), now.Format("01"), now.Format("02"))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := filepath.Base(filePath)
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		target = filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, now.Format("20060102_150405"), ext))
	}
	return target, nil
}

func (fm *FileManager) clock() time.Time {
	if fm.now == nil {
		return time.Now()
	}
	return fm.now()
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// GenerateOutputFileName expands a name format and appends ext.
//
// PARAMETERS:
//   - format: The name format. Placeholders:
//       {uuid}      - A random UUID
//       {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//       {date}      - Current date (YYYY-MM-DD)
//       {period}    - params["period"]
//       {kind}      - params["kind"]
//     Any other key in params is also substituted.
//   - params: Placeholder values.
//   - ext: The extension, e.g. ".csv". Added unless format already ends with it.
//
// RETURNS:
//   - The file name with characters outside [A-Za-z0-9._-] replaced by "_".
//
// EXAMPLE:
//   format: "merged_{period}_{timestamp}"
//   params: {"period": "2024-03"}
//   output: "merged_2024-03_20240405_093000.csv"
func GenerateOutputFileName(format string, params map[string]string, ext string) string {
	return generateOutputFileName(format, params, ext, time.Now())
}

func generateOutputFileName(format string, params map[string]string, ext string, now time.Time) string {
	replacements := []string{
		"{uuid}", uuid.New().String(),
		"{timestamp}", now.Format("20060102_150405"),
		"{date}", now.Format("2006-01-02"),
	}
	for key, value := range params {
		replacements = append(replacements, "{"+key+"}", value)
	}

	name := strings.NewReplacer(replacements...).Replace(format)
	name = unsafeNameChars.ReplaceAllString(name, "_")

	if ext != "" && !strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		name += ext
	}
	return name
}

// =============================================================================
// ERROR LOG GENERATION
// =============================================================================

// ErrorLogEntry is one file-level or row-level problem.
type ErrorLogEntry struct {
	Timestamp    time.Time
	FileName     string
	ErrorType    string
	ErrorMessage string
	RowNumber    int
	FieldName    string
	FieldValue   string
}

// WriteErrorLog writes entries to error_log_<timestamp>.txt in outputDir.
//
// RETURNS:
//   - The log path, or "" when there are no entries.
//   - An error if writing fails.
func WriteErrorLog(entries []ErrorLogEntry, outputDir string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	now := time.Now()
	logPath := filepath.Join(outputDir, fmt.Sprintf("error_log_%s.txt", now.Format("20060102_150405")))

	file, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create error log: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "Merchant Analytics - Error Log\nGenerated: %s\nTotal Errors: %d\n%s\n\n",
		now.Format("2006-01-02 15:04:05"), len(entries), rule)

	for i, entry := range entries {
		fmt.Fprintf(w, "Error #%d\n", i+1)
		fmt.Fprintf(w, "  Timestamp:  %s\n", entry.Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "  File:       %s\n", entry.FileName)
		fmt.Fprintf(w, "  Error Type: %s\n", entry.ErrorType)
		fmt.Fprintf(w, "  Message:    %s\n", entry.ErrorMessage)
		if entry.RowNumber > 0 {
			fmt.Fprintf(w, "  Row Number: %d\n", entry.RowNumber)
		}
		if entry.FieldName != "" {
			fmt.Fprintf(w, "  Field:      %s\n", entry.FieldName)
		}
		if entry.FieldValue != "" {
			fmt.Fprintf(w, "  Value:      %s\n", entry.FieldValue)
		}
		w.WriteString("\n")
	}
	fmt.Fprintf(w, "%s\nEnd of Error Log\n", rule)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush error log: %w", err)
	}
	return logPath, nil
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

const rule = "================================================================================"

// ProcessingSummary describes one pipeline run.
type ProcessingSummary struct {
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	TotalRows       int
	RowsSuccess     int
	RowsFailed      int
	Periods         []string
	MergedRecords   int
	OutputFiles     []string
	ProcessedFiles  []ProcessedFileInfo
	FailedFilesList []FailedFileInfo
}

// ProcessedFileInfo describes a successfully ingested file.
type ProcessedFileInfo struct {
	InputFile   string
	ArchivePath string
	Kind        string
	PeriodKey   string
	Rows        int
	RowsFailed  int
	ProcessTime time.Duration
}

// FailedFileInfo describes a file that could not be ingested.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
}

// WriteSummaryLog writes summary to processing_summary_<timestamp>.txt in
// outputDir and returns the path.
func WriteSummaryLog(summary ProcessingSummary, outputDir string) (string, error) {
	summaryPath := filepath.Join(outputDir,
		fmt.Sprintf("processing_summary_%s.txt", summary.EndTime.Format("20060102_150405")))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "Merchant Analytics - Processing Summary\n%s\n\n", rule)
	fmt.Fprintf(w, "Run Information:\n")
	fmt.Fprintf(w, "  Run ID:         %s\n", summary.RunID)
	fmt.Fprintf(w, "  Start Time:     %s\n", summary.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  End Time:       %s\n", summary.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Duration:       %s\n\n", summary.EndTime.Sub(summary.StartTime))
	fmt.Fprintf(w, "Statistics:\n")
	fmt.Fprintf(w, "  Total Files:    %d\n", summary.TotalFiles)
	fmt.Fprintf(w, "  Successful:     %d\n", summary.SuccessfulFiles)
	fmt.Fprintf(w, "  Failed:         %d\n", summary.FailedFiles)
	fmt.Fprintf(w, "  Total Rows:     %d\n", summary.TotalRows)
	fmt.Fprintf(w, "  Rows Loaded:    %d\n", summary.RowsSuccess)
	fmt.Fprintf(w, "  Rows Skipped:   %d\n", summary.RowsFailed)
	fmt.Fprintf(w, "  Periods:        %s\n", strings.Join(summary.Periods, ", "))
	fmt.Fprintf(w, "  Merged Records: %d\n\n", summary.MergedRecords)

	if len(summary.ProcessedFiles) > 0 {
		fmt.Fprintf(w, "Successful Files:\n%s\n", strings.Repeat("-", len(rule)))
		for _, pf := range summary.ProcessedFiles {
			fmt.Fprintf(w, "  Input:        %s\n", pf.InputFile)
			if pf.ArchivePath != "" {
				fmt.Fprintf(w, "  Archived:     %s\n", pf.ArchivePath)
			}
			fmt.Fprintf(w, "  Kind:         %s\n", pf.Kind)
			fmt.Fprintf(w, "  Period:       %s\n", pf.PeriodKey)
			fmt.Fprintf(w, "  Rows:         %d (%d skipped)\n", pf.Rows, pf.RowsFailed)
			fmt.Fprintf(w, "  Process Time: %s\n\n", pf.ProcessTime)
		}
	}

	if len(summary.FailedFilesList) > 0 {
		fmt.Fprintf(w, "Failed Files:\n%s\n", strings.Repeat("-", len(rule)))
		for _, ff := range summary.FailedFilesList {
			fmt.Fprintf(w, "  File:  %s\n", ff.InputFile)
			fmt.Fprintf(w, "  Error: %s\n\n", ff.ErrorMessage)
		}
	}

	if len(summary.OutputFiles) > 0 {
		fmt.Fprintf(w, "Output Files:\n%s\n", strings.Repeat("-", len(rule)))
		for _, out := range summary.OutputFiles {
			fmt.Fprintf(w, "  %s\n", out)
		}
		w.WriteString("\n")
	}

	fmt.Fprintf(w, "%s\nEnd of Summary\n", rule)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return summaryPath, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies src to dst, syncing dst before returning.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// CleanOldArchives removes archived files older than maxAge and returns how
// many were removed. A missing archive directory removes nothing.
func CleanOldArchives(archiveDir string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(archiveDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == archiveDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to clean archives: %w", err)
	}

	return removed, nil
}
