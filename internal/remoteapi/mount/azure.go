package mount

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
)

// AzureMount is a Mount backed by an Azure Blob Storage container,
// grounded on internal/cloud/providers/azure/client.go's AzureClient
// (a *azblob.Client built from a container SAS URL) narrowed to
// put/get/delete, and pre_encrypt.go's single-shot blockblob.Upload path
// for the upload side.
type AzureMount struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureMount builds an AzureMount from a container SAS URL, mirroring
// azure/client.go's azblob.NewClientWithNoCredential construction.
func NewAzureMount(sasURL, container, prefix string) (*AzureMount, error) {
	client, err := azblob.NewClientWithNoCredential(sasURL, &azblob.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("azure mount: new client: %w", err)
	}
	return &AzureMount{client: client, container: container, prefix: prefix}, nil
}

func (m *AzureMount) blobName(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + "/" + key
}

// Put buffers r and uploads it with a single blockblob.Upload call,
// mirroring pre_encrypt.go's single-shot (non-staged-block) path.
func (m *AzureMount) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("azure mount: read body for %s: %w", key, err)
	}
	blobClient := m.client.ServiceClient().NewContainerClient(m.container).NewBlockBlobClient(m.blobName(key))
	_, err = blobClient.Upload(ctx, &readSeekNopCloser{Reader: bytes.NewReader(data)}, &blockblob.UploadOptions{})
	if err != nil {
		return fmt.Errorf("azure mount: upload %s: %w", key, err)
	}
	return nil
}

// Get mirrors AzureClient.DownloadStream's whole-blob download path.
func (m *AzureMount) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := m.client.DownloadStream(ctx, m.container, m.blobName(key), nil)
	if err != nil {
		return nil, fmt.Errorf("azure mount: download %s: %w", key, err)
	}
	return resp.Body, nil
}

func (m *AzureMount) Delete(ctx context.Context, key string) error {
	_, err := m.client.DeleteBlob(ctx, m.container, m.blobName(key), nil)
	if err != nil {
		return fmt.Errorf("azure mount: delete %s: %w", key, err)
	}
	return nil
}

// readSeekNopCloser adapts a *bytes.Reader (already Seek-able) to the
// io.ReadSeekCloser blockblob.Upload requires.
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }
