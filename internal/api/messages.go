package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"echohub/internal/content"
	"echohub/internal/models"
	"echohub/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxImageBytes = 8 << 20

// UsersHandler returns every user except the caller, for the contact
// sidebar.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsersExcept(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// MessagesHandler returns the full conversation between the caller and the
// user in the path, ascending by creation time.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	otherID := r.PathValue("id")
	if _, err := a.store.GetUser(otherID); err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	messages, err := a.store.ListMessagesBetween(userIDFrom(r), otherID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// SendMessageHandler persists a message and only then hands it to the
// delivery coordinator. A persistence failure surfaces as a server error
// and no delivery is attempted; a delivery miss is invisible to the
// sender.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	senderID := userIDFrom(r)
	receiverID := r.PathValue("id")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" && req.Image == "" {
		writeError(w, http.StatusBadRequest, "Message text or image is required")
		return
	}

	if _, err := a.store.GetUser(receiverID); err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		CreatedAt:  time.Now().Unix(),
	}

	if req.Text != "" {
		msg.Text = content.Sanitize(req.Text)
		html, err := content.RenderMarkdown(req.Text)
		if err != nil {
			log.Printf("failed to render message %s: %v", msg.ID, err)
		} else {
			msg.HTML = html
		}
	}

	if req.Image != "" {
		fileID, err := a.saveImage(senderID, req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		msg.ImageID = fileID
	}

	if err := a.store.CreateMessage(&msg); err != nil {
		log.Printf("failed to persist message %s: %v", msg.ID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.coordinator.Deliver(msg)

	writeJSON(w, http.StatusOK, msg)
}

// GetImageHandler serves a stored image blob by its public file ID.
func (a *API) GetImageHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := a.files.Get(meta.Hash)
	if err != nil {
		log.Printf("missing blob for file %s: %v", meta.ID, err)
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to serve file %s: %v", meta.ID, err)
	}
}

// saveImage decodes a base64 (optionally data-URL wrapped) image, verifies
// it really is one, stores the blob content-addressed and records its
// metadata. Returns the public file ID.
func (a *API) saveImage(userID, data string) (string, error) {
	if strings.HasPrefix(data, "data:") {
		idx := strings.Index(data, ",")
		if idx < 0 {
			return "", errors.New("malformed image data URL")
		}
		data = data[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", errors.New("invalid image encoding")
	}
	if len(raw) > maxImageBytes {
		return "", errors.New("image too large")
	}

	kind, err := filetype.Match(raw)
	if err != nil || !filetype.IsImage(raw) {
		return "", errors.New("unsupported image format")
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	if err := a.files.Save(bytes.NewReader(raw), hash); err != nil {
		return "", err
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      int64(len(raw)),
		CreatedAt: time.Now().Unix(),
		UserID:    userID,
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		return "", err
	}

	return meta.ID, nil
}
