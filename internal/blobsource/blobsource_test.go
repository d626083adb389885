package blobsource

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	apperrors "go-analysis-console/internal/errors"
)

type fakeDownloader struct {
	data        string
	contentType string
	err         error
	gotBlob     string
}

func (f *fakeDownloader) Download(ctx context.Context, container, blob string) (io.ReadCloser, string, error) {
	f.gotBlob = container + "/" + blob
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(strings.NewReader(f.data)), f.contentType, nil
}

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func TestFetch(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        string
		wantType    string
	}{
		{"stored type kept", "image/jpeg", "jpeg-bytes", "image/jpeg"},
		{"missing type sniffed", "", pngHeader, "image/png"},
		{"octet stream sniffed", "application/octet-stream", pngHeader, "image/png"},
		{"text stays text", "", "just some notes", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDownloader{data: tt.data, contentType: tt.contentType}
			file, err := New(d, 1024).Fetch(context.Background(), "uploads", "leaves/tomato.png")
			if err != nil {
				t.Fatalf("Fetch returned %v", err)
			}
			if file.ContentType != tt.wantType {
				t.Errorf("Expected %s, got %s", tt.wantType, file.ContentType)
			}
			if file.Name != "tomato.png" || file.Size != int64(len(tt.data)) {
				t.Errorf("Unexpected file %+v", file)
			}
			if d.gotBlob != "uploads/leaves/tomato.png" {
				t.Errorf("Unexpected blob %s", d.gotBlob)
			}
		})
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name      string
		container string
		blob      string
		d         *fakeDownloader
		wantType  apperrors.ErrorType
	}{
		{"missing names", "", "a.png", &fakeDownloader{}, apperrors.ErrorTypeValidation},
		{"too large", "c", "a.png", &fakeDownloader{data: strings.Repeat("x", 11)}, apperrors.ErrorTypeValidation},
		{"download fails", "c", "a.png", &fakeDownloader{err: errors.New("connection reset")}, apperrors.ErrorTypeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.d, 10).Fetch(context.Background(), tt.container, tt.blob)
			if !apperrors.IsType(err, tt.wantType) {
				t.Errorf("Expected %s error, got %v", tt.wantType, err)
			}
		})
	}
}
