// Package artifact implements the Artifact Store (C1): it owns the
// test-history/<dirname>/ directories that hold each url_test's screenshot
// and HAR, and keeps their on-disk layout bijective with the database rows
// that reference them.
//
// Grounded on the teacher's internal/storage package (an Uploader
// abstraction with local-disk and GCS backends); disk is the authoritative
// backend here, GCS is an optional offsite mirror.
package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pumpkinperf/pumpkin/internal/errs"
)

const (
	historyDirName  = "test-history"
	screenshotFile  = "screenshot.png"
	harFile         = "network.har"
	sanitizedCutset = ":/?#[]@!$&'()*+,;="
)

// Store manages the test-history/ directory tree.
type Store struct {
	baseDir string
	mirror  Mirror
	logger  *zap.Logger
}

// Mirror asynchronously copies written artifacts to a secondary backend.
// Failures are logged, never propagated — disk remains authoritative.
type Mirror interface {
	Mirror(ctx context.Context, objectName string, data []byte, contentType string) error
}

// NewStore creates a Store rooted at baseDir/test-history, creating the
// directory if it does not already exist.
func NewStore(baseDir string, mirror Mirror, logger *zap.Logger) (*Store, error) {
	root := filepath.Join(baseDir, historyDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &errs.ArtifactIO{Path: root, Cause: err}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &errs.ArtifactIO{Path: root, Cause: err}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{baseDir: abs, mirror: mirror, logger: logger}, nil
}

// AllocateTestDir constructs the canonical directory name for url at now,
// creates it, and returns the directory plus the absolute paths at which
// the screenshot and HAR must be written.
func (s *Store) AllocateTestDir(url string, now time.Time) (dir, screenshotPath, harPath string, err error) {
	name := DirName(url, now)
	dir = filepath.Join(s.baseDir, name)

	if _, statErr := os.Stat(dir); statErr == nil {
		return "", "", "", &errs.ArtifactConflict{Dir: dir}
	} else if !os.IsNotExist(statErr) {
		return "", "", "", &errs.ArtifactIO{Path: dir, Cause: statErr}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", "", &errs.ArtifactIO{Path: dir, Cause: err}
	}

	return dir, filepath.Join(dir, screenshotFile), filepath.Join(dir, harFile), nil
}

// ListTestDirs enumerates the direct children of test-history/ whose names
// do not begin with ".".
func (s *Store) ListTestDirs() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, &errs.ArtifactIO{Path: s.baseDir, Cause: err}
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, e.Name())
	}
	return dirs, nil
}

// BaseDir returns the absolute path of the test-history/ root.
func (s *Store) BaseDir() string { return s.baseDir }

// WriteScreenshot writes png to screenshotPath and, if a mirror is
// configured, schedules an asynchronous copy.
func (s *Store) WriteScreenshot(ctx context.Context, dirName, screenshotPath string, png []byte) error {
	return s.write(ctx, dirName, screenshotPath, png, "image/png")
}

// WriteHAR writes har to harPath and, if a mirror is configured, schedules
// an asynchronous copy.
func (s *Store) WriteHAR(ctx context.Context, dirName, harPath string, har []byte) error {
	return s.write(ctx, dirName, harPath, har, "application/json")
}

func (s *Store) write(ctx context.Context, dirName, path string, data []byte, contentType string) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errs.ArtifactIO{Path: path, Cause: err}
	}

	if s.mirror != nil {
		object := dirName + "/" + filepath.Base(path)
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.mirror.Mirror(mctx, object, data, contentType); err != nil {
				s.logger.Warn("artifact mirror upload failed",
					zap.String("object", object), zap.Error(err))
			}
		}()
	}

	return nil
}

// DirName builds the canonical test-history directory name for url at the
// given instant: "<ISO-8601 with : and . replaced by ->__<sanitized-url>".
func DirName(url string, now time.Time) string {
	ts := now.UTC().Format(time.RFC3339Nano)
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return ts + "__" + SanitizeURL(url)
}

// SanitizeURL strips the leading scheme and trailing slash from url and
// replaces every character in the reserved cutset with "_".
func SanitizeURL(url string) string {
	s := strings.TrimPrefix(url, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(sanitizedCutset, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ArtifactDirFor returns the test-history/ child directory name referenced
// by an absolute screenshot or HAR path, i.e. its parent directory's base
// name. Used by the Reconciler to map a url_tests.screenshot_path back to
// the directory it must keep.
func ArtifactDirFor(path string) string {
	return filepath.Base(filepath.Dir(path))
}
