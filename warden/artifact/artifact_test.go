package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WardenScan/go-api/warden/postgres"
	"github.com/WardenScan/go-api/warden/postgres/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) (*gorm.DB, uuid.UUID) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := postgres.Connect("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	project := models.Project{Name: t.Name()}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	return db, project.ID
}

func writeUpload(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func TestStoreFileRoundTrip(t *testing.T) {
	db, projectID := newTestDB(t)
	dataDir := t.TempDir()
	content := strings.Repeat("<host/>", 1000)
	src := writeUpload(t, t.TempDir(), "scan.xml", content)

	art, err := StoreFile(db, dataDir, projectID, src, "scan.xml")
	if err != nil {
		t.Fatalf("StoreFile: %v", err)
	}
	if len(art.SHA256) != 64 {
		t.Errorf("SHA256 = %q, want hex digest", art.SHA256)
	}
	if art.RelativePath != RelPath(art.SHA256) {
		t.Errorf("RelativePath = %q, want %q", art.RelativePath, RelPath(art.SHA256))
	}
	if art.OriginalName != "scan.xml" {
		t.Errorf("OriginalName = %q", art.OriginalName)
	}
	if art.Size <= 0 {
		t.Errorf("Size = %d, want positive compressed size", art.Size)
	}
	if info, err := os.Stat(filepath.Join(dataDir, art.RelativePath)); err != nil {
		t.Fatalf("stored blob missing: %v", err)
	} else if info.Size() != art.Size {
		t.Errorf("blob size = %d, row says %d", info.Size(), art.Size)
	}

	rc, err := Open(dataDir, art)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(got) != content {
		t.Errorf("decompressed content differs: %d bytes vs %d", len(got), len(content))
	}
}

func TestStoreFileDeduplicates(t *testing.T) {
	db, projectID := newTestDB(t)
	dataDir := t.TempDir()
	uploads := t.TempDir()
	content := "identical report body"
	first := writeUpload(t, uploads, "a.xml", content)
	second := writeUpload(t, uploads, "b.xml", content)

	art1, err := StoreFile(db, dataDir, projectID, first, "a.xml")
	if err != nil {
		t.Fatalf("first StoreFile: %v", err)
	}
	art2, err := StoreFile(db, dataDir, projectID, second, "b.xml")
	if err != nil {
		t.Fatalf("second StoreFile: %v", err)
	}

	if art1.ID != art2.ID {
		t.Errorf("artifact ids differ for identical content: %s vs %s", art1.ID, art2.ID)
	}
	var count int64
	if err := db.Model(&models.Artifact{}).Count(&count).Error; err != nil {
		t.Fatalf("count artifacts: %v", err)
	}
	if count != 1 {
		t.Errorf("artifact rows = %d, want 1", count)
	}
}

func TestOpenMissingBlob(t *testing.T) {
	_, err := Open(t.TempDir(), models.Artifact{
		SHA256:       strings.Repeat("ab", 32),
		RelativePath: RelPath(strings.Repeat("ab", 32)),
	})
	if err == nil {
		t.Fatal("expected error for missing blob")
	}
}

func TestRelPathFanOut(t *testing.T) {
	sha := "abcdef0123456789"
	want := filepath.Join("artifacts", "ab", "cd", sha)
	if got := RelPath(sha); got != want {
		t.Errorf("RelPath = %q, want %q", got, want)
	}
}
