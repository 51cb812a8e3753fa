package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/artpar/fnpublish/internal/core/domain"
)

// AzureStore stages blobs in an Azure storage account.
type AzureStore struct {
	client *azblob.Client
	logger *slog.Logger
}

// NewAzureStore opens a store from a storage connection string. The
// connection string must carry an account key so read URLs can be signed.
func NewAzureStore(connectionString string, logger *slog.Logger) (*AzureStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("open storage account: %w", err)
	}
	return &AzureStore{
		client: client,
		logger: logger.With("component", "blobstore"),
	}, nil
}

// AzureOpener returns an Opener producing AzureStores.
func AzureOpener(logger *slog.Logger) Opener {
	return func(connectionString string) (Store, error) {
		return NewAzureStore(connectionString, logger)
	}
}

// Upload implements Store. The blob is written with a single Put Blob so the
// service checks the received bytes against md5 and computes the stored
// Content-MD5 itself. A rejected hash is a *domain.IntegrityError.
func (s *AzureStore) Upload(ctx context.Context, container, name string, body io.ReadSeeker, contentType string, md5 []byte) ([]byte, error) {
	if err := s.ensureContainer(ctx, container); err != nil {
		return nil, err
	}

	bb := s.blockBlob(container, name)
	s.logger.Debug("uploading blob", "container", container, "blob", name)

	opts := &blockblob.UploadOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if len(md5) > 0 {
		opts.TransactionalValidation = blob.TransferValidationTypeMD5(md5)
	}

	_, err := bb.Upload(ctx, streaming.NopCloser(body), opts)
	if bloberror.HasCode(err, bloberror.MD5Mismatch) {
		return nil, &domain.IntegrityError{Blob: name, LocalMD5: md5}
	}
	if err != nil {
		return nil, fmt.Errorf("upload %s/%s: %w", container, name, err)
	}

	props, err := bb.GetProperties(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("read properties of %s/%s: %w", container, name, err)
	}
	return props.ContentMD5, nil
}

// ReadURL implements Store.
func (s *AzureStore) ReadURL(ctx context.Context, container, name string, start, expiry time.Time) (string, error) {
	url, err := s.blockBlob(container, name).GetSASURL(
		sas.BlobPermissions{Read: true},
		expiry,
		&blob.GetSASURLOptions{StartTime: &start},
	)
	if err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", container, name, err)
	}
	return url, nil
}

func (s *AzureStore) ensureContainer(ctx context.Context, container string) error {
	_, err := s.client.CreateContainer(ctx, container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", container, err)
	}
	return nil
}

func (s *AzureStore) blockBlob(container, name string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(container).NewBlockBlobClient(name)
}
