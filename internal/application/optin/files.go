package optin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/infrastructure/mail"
	"github.com/go-doubleoptin/internal/pkg/token"
)

// filePrefix is the key prefix of stored uploads.
const filePrefix = "optins/"

// storeFiles moves the uploads of a submission from their temporary paths into
// the file store under random names. Files whose detected type is not allowed
// are dropped. The returned submission references the stored keys.
func (e *Engine) storeFiles(ctx context.Context, fd *domain.FormData) (*domain.FormData, []string) {
	if !fd.HasFiles() {
		return fd, nil
	}
	var stored []string
	out := make(map[string][]string)
	for field, paths := range fd.Files() {
		for _, p := range paths {
			key, err := e.storeFile(ctx, p)
			RemoveUpload(p)
			if err != nil {
				e.log.Warn("upload rejected", "field", field, "form_id", fd.FormID(), "err", err)
				continue
			}
			out[field] = append(out[field], key)
			stored = append(stored, key)
		}
	}
	return fd.WithFiles(out), stored
}

func (e *Engine) storeFile(ctx context.Context, tmpPath string) (string, error) {
	f, err := os.Open(tmpPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && e.settings.MaxUploadBytes > 0 && info.Size() > e.settings.MaxUploadBytes {
		return "", fmt.Errorf("%s exceeds %d bytes: %w", path.Base(tmpPath), e.settings.MaxUploadBytes, domain.ErrBadRequest)
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if !e.mimeAllowed(mtype) {
		return "", fmt.Errorf("type %s not allowed: %w", mtype.String(), domain.ErrBadRequest)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	name, err := token.NewFileName(mtype.Extension())
	if err != nil {
		return "", err
	}
	key := filePrefix + name
	if err := e.files.Put(ctx, key, f, mtype.String()); err != nil {
		return "", err
	}
	return key, nil
}

func (e *Engine) mimeAllowed(mtype *mimetype.MIME) bool {
	for _, allowed := range e.settings.AllowedMIMETypes {
		if mtype.Is(allowed) {
			return true
		}
	}
	return false
}

// RemoveFiles deletes stored uploads. Failures are logged, not returned.
func (e *Engine) RemoveFiles(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := e.files.Delete(ctx, k); err != nil {
			e.log.Warn("remove stored file", "key", k, "err", err)
		}
	}
}

func (e *Engine) loadAttachments(ctx context.Context, keys []string) ([]mail.Attachment, error) {
	out := make([]mail.Attachment, 0, len(keys))
	for _, k := range keys {
		rc, err := e.files.Open(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("open attachment %s: %w", k, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", k, err)
		}
		out = append(out, mail.Attachment{
			Filename:    path.Base(k),
			ContentType: mimetype.Detect(data).String(),
			Data:        data,
		})
	}
	return out, nil
}

func readTemp(fd *domain.FormData) ([]mail.Attachment, error) {
	var out []mail.Attachment
	for _, paths := range fd.Files() {
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("read upload %s: %w", path.Base(p), err)
			}
			out = append(out, mail.Attachment{
				Filename:    path.Base(p),
				ContentType: mimetype.Detect(data).String(),
				Data:        data,
			})
		}
	}
	return out, nil
}

// DiscardUploads removes the temporary uploads of a submission that will not be stored.
func DiscardUploads(fd *domain.FormData) {
	for _, paths := range fd.Files() {
		for _, p := range paths {
			RemoveUpload(p)
		}
	}
}

// UploadDirPrefix names the per-upload temporary directories adapters create,
// so the original file name survives until the file is stored.
const UploadDirPrefix = "doi-upload-"

// RemoveUpload deletes a temporary upload and its per-upload directory.
func RemoveUpload(p string) {
	os.Remove(p)
	if dir := filepath.Dir(p); strings.HasPrefix(filepath.Base(dir), UploadDirPrefix) {
		os.Remove(dir)
	}
}
