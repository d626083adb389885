// Package blobsource lets the user pick an image stored in Azure Blob
// Storage instead of uploading it from disk.
package blobsource

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/pkg/models"
	"go-analysis-console/pkg/validation"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Downloader streams one blob. contentType is the type stored on the
// blob and may be empty.
type Downloader interface {
	Download(ctx context.Context, container, blob string) (body io.ReadCloser, contentType string, err error)
}

type azureDownloader struct {
	client *azblob.Client
}

// NewAzureDownloader connects to an account. serviceURL may be empty, in
// which case the public endpoint of accountName is used. Without an
// account key the container must allow anonymous reads.
func NewAzureDownloader(accountName, accountKey, serviceURL string) (Downloader, error) {
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	}

	if accountKey == "" {
		client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create blob client: %w", err)
		}
		return &azureDownloader{client: client}, nil
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid storage credentials: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &azureDownloader{client: client}, nil
}

func (d *azureDownloader) Download(ctx context.Context, container, blob string) (io.ReadCloser, string, error) {
	resp, err := d.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, "", err
	}
	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return resp.Body, contentType, nil
}

// Source turns blobs into image files.
type Source struct {
	downloader Downloader
	maxBytes   int64
}

func New(downloader Downloader, maxBytes int64) *Source {
	return &Source{downloader: downloader, maxBytes: maxBytes}
}

// Fetch downloads a blob. The stored content type is kept when set;
// otherwise it is sniffed from the bytes. The result still has to pass
// upload validation.
func (s *Source) Fetch(ctx context.Context, container, blob string) (*models.ImageFile, error) {
	container = strings.TrimSpace(container)
	blob = strings.TrimSpace(blob)
	if container == "" || blob == "" {
		return nil, apperrors.NewValidationError("Container and blob name are required", nil)
	}

	body, contentType, err := s.downloader.Download(ctx, container, blob)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("Blob %s/%s not found", container, blob), err)
		}
		return nil, apperrors.NewTransportError("could not download the image from storage", err)
	}
	defer body.Close()

	reader := io.Reader(body)
	if s.maxBytes > 0 {
		reader = io.LimitReader(body, s.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.NewTransportError("could not download the image from storage", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Image is larger than %d bytes", s.maxBytes), nil)
	}

	return &models.ImageFile{
		Name:        path.Base(blob),
		ContentType: validation.DeclaredOrSniffed(contentType, data),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}
