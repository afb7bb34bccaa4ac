package handler

import (
	"net/http"
	"net/url"
	"slices"

	"relaychat/internal/app/room"
	"relaychat/internal/app/storage"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

// PresignUploadInput describes the image the client is about to upload. Room is empty for
// avatar uploads.
type PresignUploadInput struct {
	Room     string `json:"room,omitempty"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// PresignUploadResult tells the client where to PUT the image and which URL to share
// afterwards, in a message or as its avatar.
type PresignUploadResult struct {
	PresignedURL string `json:"presignedUrl"`
	FileKey      string `json:"fileKey"`
	PublicURL    string `json:"publicUrl"`
}

// HandlePresignAvatarURL signs an upload into the caller's avatar namespace.
func HandlePresignAvatarURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		input, ok := bindUpload(w, r, deps)
		if !ok {
			return
		}

		presignUpload(w, r, deps, storage.AvatarKey(payload.Username, input.FileName), input)
	}
}

// HandlePresignChatMessageURL signs an upload of an image to be shared in a room the caller
// belongs to.
func HandlePresignChatMessageURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		input, ok := bindUpload(w, r, deps)
		if !ok {
			return
		}

		if !canAccessRoom(payload.Username, input.Room) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotJoined, input.Room))
			return
		}

		presignUpload(w, r, deps, storage.RoomKey(input.Room, input.FileName), input)
	}
}

// HandlePresignDownloadURL redirects to a signed GET URL. Avatars are public; room images
// are visible to the room's participants.
func HandlePresignDownloadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Storage == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		fileKey := r.URL.Query().Get("k")
		namespace, owner, ok := storage.SplitKey(fileKey)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if namespace == storage.RoomPrefix {
			payload, ok := requireIdentity(w, r)
			if !ok {
				return
			}
			if !canAccessRoom(payload.Username, owner) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}
		}

		signed, err := deps.Storage.PresignDownload(r.Context(), fileKey, storage.PresignedURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, signed, http.StatusFound)
	}
}

func bindUpload(w http.ResponseWriter, r *http.Request, deps *AppDeps) (PresignUploadInput, bool) {
	var input PresignUploadInput

	if deps.Storage == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
		return input, false
	}

	if customErr := req.BindJSON(w, r, &input); customErr != nil {
		resp.RespondError(w, r, customErr)
		return input, false
	}

	if err := storage.ValidateFileSize(input.FileSize); err != nil {
		resp.RespondError(w, r, err)
		return input, false
	}

	if err := storage.ValidateFileType(input.FileName, input.MimeType); err != nil {
		resp.RespondError(w, r, err)
		return input, false
	}

	return input, true
}

func presignUpload(w http.ResponseWriter, r *http.Request, deps *AppDeps, key string, input PresignUploadInput) {
	signed, err := deps.Storage.PresignUpload(r.Context(), key, input.MimeType, input.FileSize, storage.PresignedURLDuration)
	if err != nil {
		logx.Error(err, "Failed to presign upload", "key", key)
		resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
		return
	}

	resp.RespondSuccess(w, r, PresignUploadResult{
		PresignedURL: signed,
		FileKey:      key,
		PublicURL:    "/api/file/presign-download?k=" + url.QueryEscape(key),
	})
}

// canAccessRoom reports whether username is a participant of roomKey.
func canAccessRoom(username, roomKey string) bool {
	if slices.Contains(room.Fixed, roomKey) {
		return true
	}
	peer, ok := room.Peer(roomKey, username)
	return ok && room.DerivePrivateRoom(username, peer) == roomKey
}
