package repofiles

import ("context"
	"io"

	"github.com/koofr/vault-core/internal/cipher"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/engine"
	"github.com/koofr/vault-core/internal/util/paths")

// UploadFileReader ensures the parent directory exists, encrypts the
// filename, wraps the content stream through the repo's Cipher, and
// hands the result to RemoteApi. This is the method the engine's
// RepoFilesClient interface calls once per upload attempt.
func (s *Service) UploadFileReader(ctx context.Context, repoID, parentPath, name string, r io.Reader, size transfers.SizeInfo, cr engine.ConflictResolution, onProgress func(transferredBytes int64)) (engine.UploadResult, error) {
	if err := s.EnsureDirs(ctx, repoID, parentPath); err != nil {
		return engine.UploadResult{}, err
	}

	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return engine.UploadResult{}, err
	}

	encParent := encryptPath(c, rootPath, parentPath)
	encName := c.EncryptFilename(cipher.DecryptedName(name))

	encSize, sizeKnown := int64(0), size.Kind != transfers.SizeUnknown
	if sizeKnown {
		encSize = c.EncryptedSize(size.Bytes)
	}

	encReader, err := c.EncryptReader(ctx, r)
	if err != nil {
		return engine.UploadResult{}, err
	}

	var remoteProgress func(int64)
	if onProgress != nil {
		// The remote reports cumulative ciphertext bytes; translate back
		// to the plaintext count the scheduler tracks. The cipher's
		// overhead is constant per call, not per byte, so this ratio is
		// only exact at EOF — reported progress is approximate until the
		// final chunk.
		remoteProgress = func(ciphertextBytes int64) {
			plain := ciphertextBytes
			if sizeKnown && encSize > 0 {
				plain = size.Bytes * ciphertextBytes / encSize
			}
			onProgress(plain)
		}
	}

	bytesUploaded, remoteFile, err := s.remote.UploadFileReader(ctx, mountID, encParent, string(encName), encReader, encSize, sizeKnown, cr, remoteProgress)
	if err != nil {
		return engine.UploadResult{}, err
	}
	if onProgress != nil {
		onProgress(size.Bytes)
	}
	_ = bytesUploaded

	decName, err := c.DecryptFilename(cipher.EncryptedName(remoteFile.Name))
	if err != nil {
		return engine.UploadResult{}, err
	}

	return engine.UploadResult{Name: string(decName), RemoteFileMeta: remoteFile}, nil
}

// GetUnusedName implements unused-name resolver: load the
// parent listing, collect existing decrypted names plus names reserved by
// in-progress uploads into the same parent, then find the first unused
// "name"/"name (k).ext" form.
func (s *Service) GetUnusedName(ctx context.Context, repoID, parentPath, name string) (string, error) {
	if err := s.RefreshListing(ctx, repoID, parentPath); err != nil {
		return "", err
	}

	taken := make(map[string]bool)
	store.WithStateR(s.store, func(st *store.State) struct{} {
		for _, n := range st.RepoFiles.EntryNames(repoID, parentPath) {
			taken[n] = true
		}
		// Names reserved by in-progress upload transfers into the same
		// parent, so two concurrent uploads of the
		// same name never both resolve to the same autorenamed target.
		for _, t := range st.Transfers.Transfers {
			if t.Kind != transfers.KindUpload || t.Upload == nil {
				continue
			}
			if t.Upload.RepoID == repoID && t.Upload.ParentPath == parentPath {
				taken[t.Upload.Name] = true
			}
		}
		return struct{}{}
	})

	return paths.UnusedName(taken, name), nil
}
