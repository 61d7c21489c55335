package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/adapters"
	"github.com/koofr/vault-core/internal/vaulterrors"
)

// fakeRepoFileReader is a RepoFileReader over an in-memory byte slice,
// used by the download-side scenario tests below.
type fakeRepoFileReader struct {
	io.Reader
	name string
	size transfers.SizeInfo
	meta interface{}
}

func (f *fakeRepoFileReader) Close() error                   { return nil }
func (f *fakeRepoFileReader) Name() string                   { return f.name }
func (f *fakeRepoFileReader) Size() transfers.SizeInfo        { return f.size }
func (f *fakeRepoFileReader) ContentType() string             { return "application/octet-stream" }
func (f *fakeRepoFileReader) RemoteFileMeta() interface{}     { return f.meta }

func newFakeRepoFileReader(name string, content []byte) *fakeRepoFileReader {
	return &fakeRepoFileReader{Reader: bytes.NewReader(content), name: name, size: transfers.Exact(int64(len(content)))}
}

// sinkDownloadable is a Downloadable capturing whatever bytes the download
// pipeline writes to it.
type sinkDownloadable struct {
	mu sync.Mutex
	buf bytes.Buffer
	doneCalled bool
	doneErr error
}

func (s *sinkDownloadable) IsRetriable(ctx context.Context) (bool, error) { return true, nil }
func (s *sinkDownloadable) IsOpenable(ctx context.Context) (bool, error)  { return false, nil }
func (s *sinkDownloadable) Exists(ctx context.Context, name, uniqueName string) (bool, error) {
	return false, nil
}
func (s *sinkDownloadable) Writer(ctx context.Context, name string, size transfers.SizeInfo, contentType, uniqueName string) (io.WriteCloser, string, error) {
	return nopWriteCloser{&s.buf}, name, nil
}
func (s *sinkDownloadable) Done(ctx context.Context, err error) error {
	s.mu.Lock()
	s.doneCalled = true
	s.doneErr = err
	s.mu.Unlock()
	return nil
}
func (s *sinkDownloadable) Open(ctx context.Context) error { return nil }

func (s *sinkDownloadable) content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Scenario 1: happy path download.
//
// Upload "test" to /file.txt, then download it back through the engine.
// The returned content matches the uploaded bytes and, being persistent,
// the completed transfer stays in state as Done.
func TestEngine_Scenario_HappyPathDownload(t *testing.T) {
	uploader := &fakeUploader{}
	e := newTestEngine(t, uploader)

	_, uploadFuture, err := e.Upload(context.Background(), "repo-1", "/", "", "file.txt",
		&fakeUploadable{content: []byte("test"), retriable: true}, ConflictResolutionError(), false)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if _, err := waitFuture(t, uploadFuture); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	sink := &sinkDownloadable{}
	provider := adapters.ReaderProvider{
		Name: "file.txt",
		Size: transfers.Exact(4),
		ReaderBuilder: func(ctx context.Context) (adapters.RepoFileReader, error) {
			return newFakeRepoFileReader("file.txt", []byte("test")), nil
		},
	}

	id, downloadFuture, err := e.Download(context.Background(), provider, sink)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}

	result, err := waitFuture(t, downloadFuture)
	if err != nil {
		t.Fatalf("expected successful download, got error: %v", err)
	}
	if result.Name != "file.txt" {
		t.Errorf("expected Name %q, got %q", "file.txt", result.Name)
	}
	if sink.content() != "test" {
		t.Errorf("expected downloaded content %q, got %q", "test", sink.content())
	}
	if !sink.doneCalled || sink.doneErr != nil {
		t.Errorf("expected Done(nil), got called=%v err=%v", sink.doneCalled, sink.doneErr)
	}

	// Download() creates a persistent transfer, so the completed download
	// stays visible as Done rather than collapsing state immediately.
	tr := store.WithStateR(e.store, func(st *store.State) *transfers.Transfer {
		tt, ok := st.Transfers.Get(id)
		if !ok {
			return nil
		}
		cp := *tt
		return &cp
	})
	if tr == nil || tr.State != transfers.StateDone {
		t.Fatalf("expected the persistent download to remain Done in state, got %+v", tr)
	}
}

// Scenario 3: a download whose reader always fails retriably cycles
// through MaxAttempts attempts and ends Failed, after which an explicit
// abort collapses state.
func TestEngine_Scenario_DownloadRetriesThenGivesUp(t *testing.T) {
	e := newTestEngine(t, &fakeUploader{})

	var attempts int32
	var mu sync.Mutex
	provider := adapters.ReaderProvider{
		Name: "file.txt",
		Size: transfers.Exact(4),
		ReaderBuilder: func(ctx context.Context) (adapters.RepoFileReader, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, retriableErr{}
		},
	}
	sink := &sinkDownloadable{}

	id, future, err := e.Download(context.Background(), provider, sink)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}

	_, err = waitFuture(t, future)
	if !errors.Is(err, vaulterrors.ErrAborted) {
		t.Fatalf("expected exhausted retries to resolve ErrAborted, got %v", err)
	}

	mu.Lock()
	gotAttempts := attempts
	mu.Unlock()
	if gotAttempts != MaxAttempts {
		t.Errorf("expected exactly %d attempts, got %d", MaxAttempts, gotAttempts)
	}

	tr := store.WithStateR(e.store, func(st *store.State) *transfers.Transfer {
		tt, ok := st.Transfers.Get(id)
		if !ok {
			return nil
		}
		cp := *tt
		return &cp
	})
	if tr == nil {
		t.Fatal("expected the failed transfer to remain visible in state until aborted")
	}
	if tr.State != transfers.StateFailed {
		t.Errorf("expected StateFailed, got %v", tr.State)
	}
	if tr.Attempts != MaxAttempts {
		t.Errorf("expected Attempts %d, got %d", MaxAttempts, tr.Attempts)
	}

	if err := e.Abort(id); err != nil {
		t.Fatalf("Abort returned error: %v", err)
	}
	count := store.WithStateR(e.store, func(st *store.State) int {
		return st.Transfers.TotalCount
	})
	if count != 0 {
		t.Errorf("expected abort to collapse state, got TotalCount=%d", count)
	}
}

// Scenario 4: uploading into a nested path autorenames on conflict and
// exposes the nested display name while the bare current name is what
// actually gets retried against the remote.
func TestEngine_Scenario_UploadAutorenameWithNestedPath(t *testing.T) {
	uploader := &fakeUploader{unusedName: "file (1).txt"}
	recordingUploader := &recordingNameUploader{fakeUploader: uploader, onUpload: func(string) {}}
	e := newTestEngine(t, recordingUploader)

	id, future, err := e.Upload(context.Background(), "repo-1", "/path/to", "path/to", "file.txt",
		&fakeUploadable{content: []byte("test"), retriable: true}, ConflictResolutionError(), true)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	tr := store.WithStateR(e.store, func(st *store.State) *transfers.Transfer {
		tt, ok := st.Transfers.Get(id)
		if !ok {
			return nil
		}
		cp := *tt
		return &cp
	})
	if tr == nil {
		t.Fatal("expected the transfer to be visible immediately after creation")
	}
	if tr.Upload.NameRelPath != "path/to" || tr.Upload.ParentPath != "/path/to" || tr.Upload.OriginalName != "file.txt" {
		t.Errorf("unexpected creation snapshot: %+v", tr.Upload)
	}

	result, err := waitFuture(t, future)
	if err != nil {
		t.Fatalf("expected eventual success after autorename, got error: %v", err)
	}
	if result.Name != "file (1).txt" {
		t.Errorf("expected result name %q, got %q", "file (1).txt", result.Name)
	}

	final := store.WithStateR(e.store, func(st *store.State) *transfers.Transfer {
		tt, ok := st.Transfers.Get(id)
		if !ok {
			return nil
		}
		cp := *tt
		return &cp
	})
	if final == nil {
		t.Fatal("expected the persistent upload to remain visible once Done")
	}
	if want := "path/to/file (1).txt"; final.DisplayName() != want {
		t.Errorf("expected DisplayName %q, got %q", want, final.DisplayName())
	}
}

// Scenario 5: an upload created with an unknown size refines to an exact
// size once the reader reports one, and the aggregate's total byte count
// reflects the refined value, not the initial unknown placeholder.
func TestEngine_Scenario_UploadSizeRefinement(t *testing.T) {
	uploader := &fakeUploader{}
	e := newTestEngine(t, uploader)

	src := &unknownThenExactUploadable{content: []byte("test")}
	id, future, err := e.Upload(context.Background(), "repo-1", "/", "", "file.txt",
		src, ConflictResolutionError(), false)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	_ = id

	if _, err := waitFuture(t, future); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	totalBytes := store.WithStateR(e.store, func(st *store.State) int64 {
		return st.Transfers.TotalBytes
	})
	if totalBytes != 4 {
		t.Errorf("expected TotalBytes to reflect the refined exact size 4, got %d", totalBytes)
	}
}

type unknownThenExactUploadable struct {
	content []byte
}

func (u *unknownThenExactUploadable) Size(ctx context.Context) (transfers.SizeInfo, error) {
	return transfers.Unknown(), nil
}
func (u *unknownThenExactUploadable) IsRetriable(ctx context.Context) (bool, error) { return true, nil }
func (u *unknownThenExactUploadable) Reader(ctx context.Context) (io.ReadCloser, transfers.SizeInfo, error) {
	return io.NopCloser(bytes.NewReader(u.content)), transfers.Exact(int64(len(u.content))), nil
}

// Scenario 6: aborting all transfers while two uploads sit in Processing
// (their readers never resolve) resolves both Futures Aborted and
// collapses state back to empty.
func TestEngine_Scenario_AbortAllMidProcessing(t *testing.T) {
	e := newTestEngine(t, &fakeUploader{})

	_, future1, err := e.Upload(context.Background(), "repo-1", "/", "", "a.txt",
		&blockingUploadable{size: 10}, ConflictResolutionError(), false)
	if err != nil {
		t.Fatalf("Upload a.txt returned error: %v", err)
	}
	_, future2, err := e.Upload(context.Background(), "repo-1", "/", "", "b.txt",
		&blockingUploadable{size: 10}, ConflictResolutionError(), false)
	if err != nil {
		t.Fatalf("Upload b.txt returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		transferring := store.WithStateR(e.store, func(st *store.State) int {
			return st.Transfers.TransferringCount
		})
		if transferring >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for both uploads to reach a scheduler slot, got %d", transferring)
		}
		time.Sleep(time.Millisecond)
	}

	e.AbortAll()

	if _, err := waitFuture(t, future1); !errors.Is(err, vaulterrors.ErrAborted) {
		t.Errorf("expected future1 ErrAborted, got %v", err)
	}
	if _, err := waitFuture(t, future2); !errors.Is(err, vaulterrors.ErrAborted) {
		t.Errorf("expected future2 ErrAborted, got %v", err)
	}

	count := store.WithStateR(e.store, func(st *store.State) int {
		return st.Transfers.TotalCount
	})
	if count != 0 {
		t.Errorf("expected AbortAll to collapse state, got TotalCount=%d", count)
	}
}
