// Package artifact stores uploaded scan files as gzip-compressed,
// content-addressed blobs under the data directory. Identical uploads share
// one artifact row keyed by the sha256 of the compressed bytes, so
// re-submitting the same report never duplicates storage.
package artifact

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/WardenScan/go-api/warden/postgres/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RelPath builds the fan-out storage path for a digest,
// e.g. artifacts/ab/cd/abcd....
func RelPath(sha256Hex string) string {
	return filepath.Join("artifacts", sha256Hex[0:2], sha256Hex[2:4], sha256Hex)
}

// StoreFile gzips the file at src into the artifact tree under dataDir and
// records an Artifact row. When an artifact with the same digest already
// exists its row is returned and the temporary copy is discarded.
func StoreFile(db *gorm.DB, dataDir string, projectID uuid.UUID, src, originalName string) (models.Artifact, error) {
	tmpDir := filepath.Join(dataDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return models.Artifact{}, fmt.Errorf("create tmp dir: %w", err)
	}
	tmp := filepath.Join(tmpDir, filepath.Base(src)+".gz")

	size, err := gzipCopy(src, tmp)
	if err != nil {
		return models.Artifact{}, err
	}

	sha, err := hashFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return models.Artifact{}, err
	}

	var existing models.Artifact
	err = db.Where("sha256 = ?", sha).First(&existing).Error
	if err == nil {
		os.Remove(tmp)
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		os.Remove(tmp)
		return models.Artifact{}, fmt.Errorf("look up artifact %s: %w", sha, err)
	}

	rel := RelPath(sha)
	final := filepath.Join(dataDir, rel)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		os.Remove(tmp)
		return models.Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return models.Artifact{}, fmt.Errorf("move artifact into place: %w", err)
	}

	art := models.Artifact{
		ProjectID:    projectID,
		SHA256:       sha,
		Size:         size,
		MIME:         mime.TypeByExtension(filepath.Ext(originalName)),
		OriginalName: originalName,
		RelativePath: rel,
	}
	if err := db.Create(&art).Error; err != nil {
		return models.Artifact{}, fmt.Errorf("create artifact row: %w", err)
	}
	return art, nil
}

// Open returns a reader over the decompressed content of an artifact.
// Closing the returned reader closes both the gzip stream and the file.
func Open(dataDir string, art models.Artifact) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(dataDir, art.RelativePath))
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", art.SHA256, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read artifact %s: %w", art.SHA256, err)
	}
	return &artifactReader{gz: gz, f: f}, nil
}

type artifactReader struct {
	gz *gzip.Reader
	f  *os.File
}

func (r *artifactReader) Read(p []byte) (int, error) { return r.gz.Read(p) }

func (r *artifactReader) Close() error {
	gzErr := r.gz.Close()
	fErr := r.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

func gzipCopy(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open upload: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create artifact tmp: %w", err)
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return 0, fmt.Errorf("compress upload: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return 0, fmt.Errorf("flush gzip stream: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close artifact tmp: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("stat artifact tmp: %w", err)
	}
	return info.Size(), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
