package localfs

import ("context"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/adapters"
	"github.com/koofr/vault-core/internal/vaulterrors")

var _ adapters.Uploadable = (*FileUploadable)(nil)

// FileUploadable is the local-file `Uploadable` : stat for
// size, os.Open for the content stream on each attempt. Grounded on the
// local/remote symmetry in internal/localfs/browser.go —
// this is the missing "read a local file as an upload source" half the
// browser/walk helpers never needed on their own.
type FileUploadable struct {
	Path string
}

// NewFileUploadable builds an Uploadable over a single local file.
func NewFileUploadable(path string) *FileUploadable {
	return &FileUploadable{Path: path}
}

func (f *FileUploadable) Size(ctx context.Context) (transfers.SizeInfo, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return transfers.Unknown(), vaulterrors.NewLocalFileError("stat "+f.Path, err)
	}
	if info.IsDir() {
		return transfers.Unknown(), vaulterrors.NotRetriable(vaulterrors.NewLocalFileError(f.Path+" is a directory", nil))
	}
	return transfers.Exact(info.Size()), nil
}

// IsRetriable is true: re-opening a local file for another attempt is
// always safe, unlike a one-shot pipe or network stream.
func (f *FileUploadable) IsRetriable(ctx context.Context) (bool, error) {
	return true, nil
}

func (f *FileUploadable) Reader(ctx context.Context) (io.ReadCloser, transfers.SizeInfo, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, transfers.Unknown(), vaulterrors.NewLocalFileError("open "+f.Path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, transfers.Unknown(), vaulterrors.NewLocalFileError("stat "+f.Path, err)
	}
	return file, transfers.Exact(info.Size()), nil
}

// ContentType guesses a MIME type from Path's extension, for callers
// building a repofiles upload that wants one (RemoteApi itself doesn't
// require it — never names a content-type parameter on
// upload_file_reader).
func (f *FileUploadable) ContentType() string {
	ct := mime.TypeByExtension(filepath.Ext(f.Path))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
