// Package adapters declares the capability interfaces — Uploadable,
// Downloadable, ReaderProvider — that form the boundary between the
// transfer engine and whatever actually produces or consumes bytes
// (local files, in-memory buffers, streamed callbacks). The engine never
// type-switches on a concrete adapter; it only calls through this small
// fixed capability set.
package adapters

import ("context"
	"io"

	"github.com/koofr/vault-core/internal/transfers")

// Uploadable is the source side of an upload: something that can report
// its size, whether a failed attempt may be retried, and hand back a
// fresh content stream attempt.
type Uploadable interface {
	// Size returns the best currently-known SizeInfo, or an error if even
	// a preliminary size (e.g. a stat) can't be obtained. An error here
	// fails transfer creation before any Transfer is recorded.
	Size(ctx context.Context) (transfers.SizeInfo, error)

	// IsRetriable reports whether a failed attempt against this source
	// may be retried (e.g. false for a pipe that can only be read once).
	IsRetriable(ctx context.Context) (bool, error)

	// Reader opens the content stream for one attempt. It may be called
	// more than once across the transfer's lifetime (once per attempt)
	// but at most once concurrently. The returned SizeInfo may refine
	// (never contradict) the value from Size. The caller owns the
	// returned ReadCloser and must Close it whether or not it is fully
	// consumed (abort mid-copy closes it to unblock the write side).
	Reader(ctx context.Context) (io.ReadCloser, transfers.SizeInfo, error)
}

// Downloadable is the sink side of a download: something that can check
// for a pre-existing destination, accept the decrypted name/size/type and
// produce a writer, and be told the final outcome.
type Downloadable interface {
	// IsRetriable reports whether a failed attempt against this sink may
	// be retried.
	IsRetriable(ctx context.Context) (bool, error)

	// IsOpenable reports whether, once Done, the artifact this sink
	// produced can be opened externally (Transfer.IsOpenable).
	IsOpenable(ctx context.Context) (bool, error)

	// Exists is consulted before a transfer is created. If it returns
	// true, create fails with ErrAlreadyExists and no Transfer is ever
	// recorded; Done is still invoked so the adapter can dispose of any
	// resources it preallocated. uniqueName is a hint of the
	// collision-avoided name the caller intends to use if Exists is
	// false.
	Exists(ctx context.Context, name string, uniqueName string) (bool, error)

	// Writer is called once the repo-file reader has produced the
	// decrypted name/size/content type. It returns a sink plus the name
	// actually used (which may differ from the requested name — e.g.
	// sanitized or disambiguated by the adapter).
	Writer(ctx context.Context, name string, size transfers.SizeInfo, contentType string, uniqueName string) (io.WriteCloser, string, error)

	// Done is invoked exactly once with the terminal outcome: nil on
	// success, the originating error otherwise (including ErrAborted).
	Done(ctx context.Context, err error) error

	// Open is only meaningful if IsOpenable returned true and the
	// transfer finished Done and persistent.
	Open(ctx context.Context) error
}

// RepoFileReader owns a single decrypted read of one repo file: the byte
// stream plus the metadata the download pipeline needs to hand to
// Downloadable.Writer.
type RepoFileReader interface {
	io.ReadCloser
	Name() string
	Size() transfers.SizeInfo
	ContentType() string
	// RemoteFileMeta returns provider-specific remote file metadata if
	// this reader is backed by a real RemoteApi round trip (size,
	// modified time, hash) — used to populate Overwrite conflict-
	// resolution fencing fields in repofilesdetails. Returns nil when
	// not applicable (e.g. an inline reader transfer).
	RemoteFileMeta() interface{}
}

// ReaderProviderBuilder lazily produces a RepoFileReader; building is
// deferred until the scheduler actually starts the attempt.
type ReaderProviderBuilder func(ctx context.Context) (RepoFileReader, error)

// ReaderProvider is the factory capability behind DownloadReader
// transfers and behind RepoFilesDetails.Download: a name, a size, an
// optional disambiguated unique name, and a lazy reader builder.
type ReaderProvider struct {
	Name string
	Size transfers.SizeInfo
	UniqueName string
	ReaderBuilder ReaderProviderBuilder
}

// WrapReaderBuilder composes a transformation (e.g. a rename, or
// inserting a byte-counting tee) around an existing ReaderProviderBuilder.
func WrapReaderBuilder(inner ReaderProviderBuilder, wrap func(ctx context.Context, r RepoFileReader) (RepoFileReader, error)) ReaderProviderBuilder {
	return func(ctx context.Context) (RepoFileReader, error) {
		r, err := inner(ctx)
		if err != nil {
			return nil, err
		}
		return wrap(ctx, r)
	}
}
