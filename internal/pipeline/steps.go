package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
)

// DefaultFileMode is the permission applied to downloaded files.
const DefaultFileMode os.FileMode = 0o644

// ChmodStep sets the file permissions.
type ChmodStep struct {
	mode os.FileMode
}

// NewChmodStep creates a step applying mode.
func NewChmodStep(mode os.FileMode) *ChmodStep {
	return &ChmodStep{mode: mode}
}

// Name returns the step name.
func (s *ChmodStep) Name() string {
	return "chmod"
}

// Do applies the mode.
func (s *ChmodStep) Do(_ context.Context, f *Finalized) error {
	if err := os.Chmod(f.Path, s.mode); err != nil {
		return fmt.Errorf("chmod %s: %w", f.Path, err)
	}
	return nil
}

// TimestampStep sets the modification time to the remote Last-Modified time.
type TimestampStep struct {
	now func() time.Time
}

// NewTimestampStep creates the step.
func NewTimestampStep() *TimestampStep {
	return &TimestampStep{now: time.Now}
}

// Name returns the step name.
func (s *TimestampStep) Name() string {
	return "timestamp"
}

// Do applies f.LastModified when it is known and not in the future.
func (s *TimestampStep) Do(_ context.Context, f *Finalized) error {
	if f.LastModified.IsZero() || f.LastModified.After(s.now()) {
		return nil
	}
	if err := os.Chtimes(f.Path, s.now(), f.LastModified); err != nil {
		return fmt.Errorf("set modification time of %s: %w", f.Path, err)
	}
	f.Timestamped = true
	return nil
}

// exifDateTags are read in order of preference.
var exifDateTags = []string{"DateTimeOriginal", "DateTimeDigitized", "DateTime"}

// exifExtensions are the file types searched for EXIF data.
var exifExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true,
	".heic": true, ".webp": true, ".png": true,
}

// exifTimeLayout is the EXIF date format.
const exifTimeLayout = "2006:01:02 15:04:05"

// defaultEXIFScanSize bounds how much of a file is searched for EXIF data.
const defaultEXIFScanSize = 2 * 1024 * 1024 // 2MB

// EXIFTimestampStep sets the modification time of images from their EXIF
// capture date. It does nothing when an earlier step already applied a
// timestamp.
type EXIFTimestampStep struct {
	scanSize int64
	location *time.Location
}

// NewEXIFTimestampStep creates the step. EXIF dates carry no zone and are
// read as local time.
func NewEXIFTimestampStep() *EXIFTimestampStep {
	return &EXIFTimestampStep{scanSize: defaultEXIFScanSize, location: time.Local}
}

// Name returns the step name.
func (s *EXIFTimestampStep) Name() string {
	return "exif_timestamp"
}

// Do applies the EXIF capture date if one is found.
func (s *EXIFTimestampStep) Do(_ context.Context, f *Finalized) error {
	if f.Timestamped || !exifExtensions[strings.ToLower(filepath.Ext(f.Path))] {
		return nil
	}

	taken, ok, err := s.captureTime(f.Path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := os.Chtimes(f.Path, time.Now(), taken); err != nil {
		return fmt.Errorf("set modification time of %s: %w", f.Path, err)
	}
	f.Timestamped = true
	return nil
}

func (s *EXIFTimestampStep) captureTime(path string) (time.Time, bool, error) {
	file, err := os.Open(path) //nolint:gosec // path is produced by the executor
	if err != nil {
		return time.Time{}, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.scanSize))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", path, err)
	}

	// Files without EXIF are common and not an error.
	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil || rawExif == nil {
		return time.Time{}, false, nil
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return time.Time{}, false, nil
	}

	values := make(map[string]string, len(exifDateTags))
	for _, entry := range entries {
		for _, tag := range exifDateTags {
			if entry.TagName == tag {
				if _, seen := values[tag]; !seen {
					values[tag] = entry.Formatted
				}
			}
		}
	}
	for _, tag := range exifDateTags {
		if t, ok := parseEXIFTime(values[tag], s.location); ok {
			return t, true, nil
		}
	}
	return time.Time{}, false, nil
}

// parseEXIFTime parses "2006:01:02 15:04:05". Zeroed dates are rejected.
func parseEXIFTime(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(strings.TrimRight(v, "\x00"))
	if v == "" || strings.HasPrefix(v, "0000") {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(exifTimeLayout, v, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
