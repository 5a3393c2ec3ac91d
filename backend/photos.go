package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxPhotos      = 6
	maxUploadBytes = 5 << 20
	uploadURLBase  = "/uploads/"
)

var errPhotoLimit = errors.New("photo limit reached")

var photoExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// insertPhoto appends a photo. The first photo a user adds becomes primary.
func insertPhoto(ctx context.Context, tx *sql.Tx, userID int, photoURL string) (photoRow, error) {
	// Serialises concurrent uploads by the same user.
	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM profiles WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return photoRow{}, err
	}

	var count, nextPos int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(position) + 1, 0) FROM photos WHERE user_id = $1
	`, userID).Scan(&count, &nextPos); err != nil {
		return photoRow{}, err
	}
	if count >= maxPhotos {
		return photoRow{}, errPhotoLimit
	}

	ph := photoRow{URL: photoURL, IsPrimary: count == 0, Position: nextPos}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO photos (user_id, url, is_primary, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, ph.URL, ph.IsPrimary, ph.Position).Scan(&ph.ID)
	return ph, err
}

func (s *server) storePhoto(ctx context.Context, userID int, photoURL string) (photoRow, error) {
	var ph photoRow
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if ph, err = insertPhoto(ctx, tx, userID, photoURL); err != nil {
			return err
		}
		_, err = refreshCompletion(ctx, tx, userID)
		return err
	})
	return ph, err
}

func (s *server) writePhotoResult(w http.ResponseWriter, userID int, ph photoRow, err error) {
	switch {
	case errors.Is(err, errPhotoLimit):
		writeError(w, http.StatusConflict, "photo_limit")
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case err != nil:
		s.log.Error("store photo", zap.Int("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error")
	default:
		writeJSON(w, http.StatusCreated, ph)
	}
}

// POST /profiles/me/photos/upload  (multipart form, field name: "file")
func (s *server) uploadPhotoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := mustUserID(r)

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file")
			return
		}
		defer f.Close()
		if hdr.Size > maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
			return
		}

		// Sniff MIME from the first bytes
		head := make([]byte, 512)
		n, _ := f.Read(head)
		ext, ok := photoExt[http.DetectContentType(head[:n])]
		if !ok {
			writeError(w, http.StatusBadRequest, "unsupported_image_type")
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "seek_failed")
			return
		}

		filename := uuid.NewString() + ext
		dst := filepath.Join(s.uploadDir, filename)
		if err := saveFile(dst, f); err != nil {
			s.log.Error("save upload", zap.String("path", dst), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		ph, err := s.storePhoto(r.Context(), me, uploadURLBase+filename)
		if err != nil {
			_ = os.Remove(dst)
		}
		s.writePhotoResult(w, me, ph, err)
	}
}

func saveFile(dst string, src io.Reader) error {
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// POST /profiles/me/photos
// Registers an externally hosted photo by URL.
func (s *server) addPhotoURLHandler() http.HandlerFunc {
	type photoURLRequest struct {
		URL string `json:"url"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req photoURLRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		u, err := url.Parse(strings.TrimSpace(req.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || len(req.URL) > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_url")
			return
		}

		me := mustUserID(r)
		ph, err := s.storePhoto(r.Context(), me, u.String())
		s.writePhotoResult(w, me, ph, err)
	}
}

// DELETE /profiles/me/photos/{photoID}
// Removing the primary photo promotes the next one.
func (s *server) deletePhotoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		photoID, ok := urlParamInt(r, "photoID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := mustUserID(r)

		var photoURL string
		err := withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			var wasPrimary bool
			err := tx.QueryRowContext(r.Context(), `
				DELETE FROM photos WHERE id = $1 AND user_id = $2
				RETURNING url, is_primary
			`, photoID, me).Scan(&photoURL, &wasPrimary)
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound
			}
			if err != nil {
				return err
			}

			if wasPrimary {
				if _, err := tx.ExecContext(r.Context(), `
					UPDATE photos SET is_primary = TRUE
					WHERE id = (SELECT id FROM photos WHERE user_id = $1 ORDER BY position, id LIMIT 1)
				`, me); err != nil {
					return err
				}
			}
			_, err = refreshCompletion(r.Context(), tx, me)
			return err
		})
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if strings.HasPrefix(photoURL, uploadURLBase) {
			// Only the basename, so a stored URL cannot point outside the upload dir.
			full := filepath.Join(s.uploadDir, path.Base(photoURL))
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				s.log.Warn("remove photo file", zap.String("path", full), zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
