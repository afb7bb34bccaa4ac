package storage

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaychat/internal/pkg/errs"
)

const (
	// MaxFileSizeMB is the largest accepted image in megabytes.
	MaxFileSizeMB = 5

	MaxFileSize = MaxFileSizeMB * 1024 * 1024

	// PresignedURLDuration is how long a signed URL stays valid.
	PresignedURLDuration = 5 * time.Minute

	// AvatarPrefix and RoomPrefix are the two key namespaces of the bucket.
	AvatarPrefix = "avatars"
	RoomPrefix   = "rooms"
)

// AllowedMIMETypes defines the set of permitted image types.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their corresponding MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxFileSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// ValidateFileType accepts an image whose extension agrees with its declared MIME type.
func ValidateFileType(fileName, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)

	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	expected, ok := ExtToMIME[strings.ToLower(filepath.Ext(fileName))]
	if !ok || expected != lowerMimeType {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	return nil
}

// AvatarKey returns a fresh object key for an avatar of username.
func AvatarKey(username, fileName string) string {
	return objectKey(AvatarPrefix+"/"+username, fileName)
}

// RoomKey returns a fresh object key for an image shared in roomKey.
func RoomKey(roomKey, fileName string) string {
	return objectKey(RoomPrefix+"/"+roomKey, fileName)
}

func objectKey(prefix, fileName string) string {
	return prefix + "/" + uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
}

// SplitKey returns the namespace and owner (username or room key) of an object key.
func SplitKey(key string) (namespace, owner string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}

	switch parts[0] {
	case AvatarPrefix, RoomPrefix:
		return parts[0], parts[1], true
	}
	return "", "", false
}
