package repofiles

import ("bytes"
	"context"
	"io"

	"github.com/koofr/vault-core/internal/cipher"
	"github.com/koofr/vault-core/internal/dialogs"
	"github.com/koofr/vault-core/internal/remoteapi"
	"github.com/koofr/vault-core/internal/transfers"
	"github.com/koofr/vault-core/internal/transfers/engine"
	paths "github.com/koofr/vault-core/internal/util/paths"
	"github.com/koofr/vault-core/internal/vaulterrors")

// FileRef identifies a single repo file for DeleteFiles.
type FileRef struct {
	RepoID string
	Path string // decrypted
}

// repoFileReader adapts a RemoteApi content stream plus a repo Cipher
// into adapters.RepoFileReader: the decrypted byte stream and the
// metadata the download pipeline needs.
type repoFileReader struct {
	io.ReadCloser
	name string
	size int64
	contentType string
	remoteFile remoteapi.RemoteFile
}

func (r *repoFileReader) Name() string { return r.name }
func (r *repoFileReader) ContentType() string { return r.contentType }
func (r *repoFileReader) RemoteFileMeta() interface{} { return r.remoteFile }
func (r *repoFileReader) Size() transfers.SizeInfo { return transfers.Exact(r.size) }

// GetFileReader opens a decrypted read of repoID's file at path: a thin
// wrapper around the RemoteApi round trip with filename encryption on the
// way out and content decryption on the way in.
func (s *Service) GetFileReader(ctx context.Context, repoID, path string) (*repoFileReader, error) {
	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return nil, err
	}
	encPath := encryptPath(c, rootPath, path)

	rc, remoteFile, err := s.remote.GetFileReader(ctx, mountID, encPath)
	if err != nil {
		return nil, err
	}

	decReader, err := c.DecryptReader(ctx, rc)
	if err != nil {
		rc.Close()
		return nil, err
	}

	_, name := paths.Split(path)
	return &repoFileReader{
		ReadCloser: struct {
			io.Reader
			io.Closer
		}{decReader, rc},
		name: name,
		size: remoteFile.Size,
		contentType: remoteFile.ContentType,
		remoteFile: remoteFile,
	}, nil
}

// DeleteFiles implements delete_files: confirm via Dialogs,
// run beforeDelete (used by repofilesdetails to mark itself deleting),
// then delete sequentially, stopping at the first remote error.
func (s *Service) DeleteFiles(ctx context.Context, files []FileRef, beforeDelete func() error) error {
	if len(files) == 0 {
		return nil
	}
	optionID, ok, err := s.dlg.Show(ctx, dialogs.Request{
		Title: "Delete",
		Message: "Delete the selected files?",
		Options: []dialogs.Option{
			{ID: dialogs.OptionConfirm, Label: "Delete"},
			{ID: dialogs.OptionCancel, Label: "Cancel"},
		},
	})
	if err != nil {
		return err
	}
	if !ok || optionID != dialogs.OptionConfirm {
		return vaulterrors.ErrCanceled
	}

	if beforeDelete != nil {
		if err := beforeDelete(); err != nil {
			return err
		}
	}

	for _, f := range files {
		c, mountID, rootPath, err := s.cipherFor(f.RepoID)
		if err != nil {
			return err
		}
		encPath := encryptPath(c, rootPath, f.Path)
		if err := s.remote.DeleteFile(ctx, mountID, encPath); err != nil {
			return err
		}
	}
	return nil
}

// RenameFile renames repoID's file at path to newName, re-encrypting the
// new name, and refreshes the parent listing.
func (s *Service) RenameFile(ctx context.Context, repoID, path, newName string) error {
	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return err
	}
	encPath := encryptPath(c, rootPath, path)
	encNewName := c.EncryptFilename(cipher.DecryptedName(newName))
	if _, err := s.remote.RenameFile(ctx, mountID, encPath, string(encNewName)); err != nil {
		return err
	}
	parent, _ := paths.Split(path)
	return s.RefreshListing(ctx, repoID, parent)
}

// CopyFile copies repoID's file at srcPath to (dstRepoID, dstParentPath,
// dstName), ensuring the destination parent exists first.
func (s *Service) CopyFile(ctx context.Context, repoID, srcPath, dstParentPath, dstName string) error {
	if err := s.EnsureDirs(ctx, repoID, dstParentPath); err != nil {
		return err
	}
	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return err
	}
	encSrc := encryptPath(c, rootPath, srcPath)
	encDstParent := encryptPath(c, rootPath, dstParentPath)
	encDstName := c.EncryptFilename(cipher.DecryptedName(dstName))
	if _, err := s.remote.CopyFile(ctx, mountID, encSrc, encDstParent, string(encDstName)); err != nil {
		return err
	}
	return s.RefreshListing(ctx, repoID, dstParentPath)
}

// MoveFile moves repoID's file at srcPath to (dstParentPath, dstName),
// refreshing both the source and destination listings.
func (s *Service) MoveFile(ctx context.Context, repoID, srcPath, dstParentPath, dstName string) error {
	if err := s.EnsureDirs(ctx, repoID, dstParentPath); err != nil {
		return err
	}
	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return err
	}
	encSrc := encryptPath(c, rootPath, srcPath)
	encDstParent := encryptPath(c, rootPath, dstParentPath)
	encDstName := c.EncryptFilename(cipher.DecryptedName(dstName))
	if _, err := s.remote.MoveFile(ctx, mountID, encSrc, encDstParent, string(encDstName)); err != nil {
		return err
	}
	srcParent, _ := paths.Split(srcPath)
	if err := s.RefreshListing(ctx, repoID, srcParent); err != nil {
		return err
	}
	return s.RefreshListing(ctx, repoID, dstParentPath)
}

// CreateDir creates a new directory named name under parentPath.
func (s *Service) CreateDir(ctx context.Context, repoID, parentPath, name string) error {
	if err := s.EnsureDirs(ctx, repoID, parentPath); err != nil {
		return err
	}
	c, mountID, rootPath, err := s.cipherFor(repoID)
	if err != nil {
		return err
	}
	encParent := encryptPath(c, rootPath, parentPath)
	encName := c.EncryptFilename(cipher.DecryptedName(name))
	if _, err := s.remote.CreateDirName(ctx, mountID, encParent, string(encName)); err != nil {
		return err
	}
	return s.RefreshListing(ctx, repoID, parentPath)
}

// CreateDirName creates a directory named the first unused variant of
// name under parentPath, "create_dir_name".
func (s *Service) CreateDirName(ctx context.Context, repoID, parentPath, name string) (string, error) {
	unused, err := s.GetUnusedName(ctx, repoID, parentPath, name)
	if err != nil {
		return "", err
	}
	if err := s.CreateDir(ctx, repoID, parentPath, unused); err != nil {
		return "", err
	}
	return unused, nil
}

// CreateFile uploads content as a brand-new file named name under
// parentPath, failing on a name collision.
func (s *Service) CreateFile(ctx context.Context, repoID, parentPath, name string, content []byte) error {
	_, err := s.UploadFileReader(ctx, repoID, parentPath, name, bytes.NewReader(content), transfers.Exact(int64(len(content))), engine.ConflictResolutionError(), nil)
	return err
}
