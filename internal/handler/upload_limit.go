package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var allowedUploadExts = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// detectTextFile reports whether the upload looks like plain text. The
// reader is rewound afterwards.
func detectTextFile(file multipart.File) (bool, error) {
	buf := make([]byte, 512)
	read, err := file.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return false, err
	}
	return strings.HasPrefix(http.DetectContentType(buf[:read]), "text/"), nil
}

func buildFileKey(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedUploadExts[ext] {
		return "", false
	}
	return uuid.NewString() + ext, true
}
