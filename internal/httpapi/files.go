package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/agentmesh/workshop/internal/apierr"
	"github.com/agentmesh/workshop/internal/blobstore"
)

// maxUploadBytes bounds a single blob upload. Not one of the five named
// configuration variables (spec §6); a fixed sane default instead of a new
// env var keeps the configuration surface exactly as specified.
const maxUploadBytes = 10 << 20 // 10 MiB

func (h *handler) uploadFile(w http.ResponseWriter, r *http.Request) error {
	if r.ContentLength > maxUploadBytes {
		return apierr.New(http.StatusRequestEntityTooLarge, "upload exceeds maximum size of %d bytes", maxUploadBytes)
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		return err
	}
	if len(data) > maxUploadBytes {
		return apierr.New(http.StatusRequestEntityTooLarge, "upload exceeds maximum size of %d bytes", maxUploadBytes)
	}

	digest, size, err := h.blobs.Put(data)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]any{"hash": digest, "size": size})
	return nil
}

func (h *handler) downloadFile(w http.ResponseWriter, r *http.Request) error {
	digest := r.PathValue("hash")
	rc, size, err := h.blobs.OpenBlob(digest)
	if errors.Is(err, blobstore.ErrInvalidDigest) {
		return apierr.BadRequest("invalid hash format")
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		return apierr.NotFound("blob %s not found", digest)
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
	return nil
}
