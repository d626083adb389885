package preview

import (
	"strings"
	"testing"

	"go-analysis-console/pkg/models"
)

func testFile(name string) *models.ImageFile {
	return &models.ImageFile{Name: name, ContentType: "image/png", Size: 3, Data: []byte{1, 2, 3}}
}

func TestAcquireAndOpen(t *testing.T) {
	m := NewManager("/preview/")
	h := m.Acquire(testFile("leaf.png"))

	if h.IsZero() {
		t.Fatal("Expected non-zero handle")
	}
	if !strings.HasPrefix(h.URL, "/preview/") || !strings.HasSuffix(h.URL, h.Token) {
		t.Errorf("Unexpected URL %q for token %q", h.URL, h.Token)
	}

	r, ok := m.Open(h.Token)
	if !ok {
		t.Fatal("Expected live resource")
	}
	if r.Name != "leaf.png" || r.ContentType != "image/png" || len(r.Data) != 3 {
		t.Errorf("Unexpected resource %+v", r)
	}
}

func TestReleaseRevokes(t *testing.T) {
	m := NewManager("/preview/")
	h := m.Acquire(testFile("a.png"))
	m.Release(h)

	if _, ok := m.Open(h.Token); ok {
		t.Error("Expected released handle to be revoked")
	}
	if m.Live() != 0 {
		t.Errorf("Expected 0 live previews, got %d", m.Live())
	}

	// double release and zero handle are harmless
	m.Release(h)
	m.Release(Handle{})
}

func TestReplaceKeepsSingleLiveHandle(t *testing.T) {
	m := NewManager("/preview/")
	h := m.Acquire(testFile("a.png"))

	for i := 0; i < 5; i++ {
		next := m.Replace(h, testFile("b.png"))
		if next.Token == h.Token {
			t.Fatal("Expected a fresh token on replace")
		}
		if _, ok := m.Open(h.Token); ok {
			t.Error("Expected previous preview to be released")
		}
		h = next
	}

	if m.Live() != 1 {
		t.Errorf("Expected exactly 1 live preview, got %d", m.Live())
	}
}
