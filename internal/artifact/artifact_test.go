package artifact

import (
	"os"
	"testing"
	"time"
)

func TestDirName(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 30, 45, 123000000, time.UTC)

	got := DirName("https://example.com/path?q=1", now)
	want := "2026-03-05T12-30-45-123Z__example.com_path_q_1"
	if got != want {
		t.Fatalf("DirName() = %q, want %q", got, want)
	}
}

func TestSanitizeURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/":               "example.com",
		"http://a.b.com/path":                 "a.b.com_path",
		"https://x.com/a:b?c#d[e]@f!g$h&i'j(k)*l+m,n;o=p": "x.com_a_b_c_d_e__f_g_h_i_j_k__l_m_n_o_p",
	}
	for in, want := range cases {
		if got := SanitizeURL(in); got != want {
			t.Errorf("SanitizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAllocateTestDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	now := time.Date(2026, 3, 5, 12, 30, 45, 0, time.UTC)
	testDir, screenshotPath, harPath, err := store.AllocateTestDir("https://example.com", now)
	if err != nil {
		t.Fatalf("AllocateTestDir() error = %v", err)
	}

	if _, err := os.Stat(testDir); err != nil {
		t.Fatalf("allocated dir does not exist: %v", err)
	}

	if err := store.WriteScreenshot(t.Context(), ArtifactDirFor(screenshotPath), screenshotPath, []byte("png")); err != nil {
		t.Fatalf("WriteScreenshot() error = %v", err)
	}
	if err := store.WriteHAR(t.Context(), ArtifactDirFor(harPath), harPath, []byte("{}")); err != nil {
		t.Fatalf("WriteHAR() error = %v", err)
	}

	if _, err := os.Stat(screenshotPath); err != nil {
		t.Fatalf("screenshot not written: %v", err)
	}
	if _, err := os.Stat(harPath); err != nil {
		t.Fatalf("har not written: %v", err)
	}

	dirs, err := store.ListTestDirs()
	if err != nil {
		t.Fatalf("ListTestDirs() error = %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("ListTestDirs() = %v, want 1 entry", dirs)
	}
}

func TestAllocateTestDirConflict(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	now := time.Date(2026, 3, 5, 12, 30, 45, 0, time.UTC)
	if _, _, _, err := store.AllocateTestDir("https://example.com", now); err != nil {
		t.Fatalf("first AllocateTestDir() error = %v", err)
	}
	if _, _, _, err := store.AllocateTestDir("https://example.com", now); err == nil {
		t.Fatalf("second AllocateTestDir() expected ArtifactConflict, got nil")
	}
}
