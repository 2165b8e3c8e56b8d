package dashboard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxImageBytes caps a single attachment.
const MaxImageBytes = 500 * 1024

var (
	ErrImageTooLarge = errors.New("image exceeds 500KB")
	ErrNotImage      = errors.New("file is not an image")
)

// LoadImage reads an image file and returns it as a data URL.
func LoadImage(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", path, ErrNotImage)
	}
	if info.Size() > MaxImageBytes {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrImageTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return EncodeImage(filepath.Ext(path), data)
}

// EncodeImage validates raw bytes as an image and builds the data URL.
func EncodeImage(ext string, data []byte) (string, error) {
	if len(data) > MaxImageBytes {
		return "", ErrImageTooLarge
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		if byExt := mime.TypeByExtension(strings.ToLower(ext)); strings.HasPrefix(byExt, "image/") {
			contentType = byExt
		} else {
			return "", ErrNotImage
		}
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}

	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
