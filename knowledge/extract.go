package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
)

var ErrNoText = errors.New("knowledge: document contains no extractable text")

// detectContentType prefers the declared type, then the file extension, then sniffing.
func detectContentType(declared, fileName string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(declared)); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	if byExt := docconv.MimeTypeByExtension(fileName); byExt != "" && byExt != "application/octet-stream" {
		return byExt
	}
	if strings.HasSuffix(strings.ToLower(fileName), ".md") {
		return "text/markdown"
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return sniffed
}

func isPlainText(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "text/") && contentType != "text/html":
		return true
	case contentType == "application/json", contentType == "application/x-ndjson":
		return true
	default:
		return false
	}
}

// extractText returns the readable text of an uploaded file. Plain text is
// used as-is; every other format goes through docconv.
func extractText(data []byte, contentType string) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", ErrNoText
	}

	var text string
	if isPlainText(contentType) {
		if !utf8.Valid(data) {
			return "", fmt.Errorf("knowledge: %s document is not valid UTF-8", contentType)
		}
		text = string(data)
	} else {
		res, err := docconv.Convert(bytes.NewReader(data), contentType, false)
		if err != nil {
			return "", fmt.Errorf("knowledge: extract %s: %w", contentType, err)
		}
		text = res.Body
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
