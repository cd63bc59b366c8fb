package llm

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DataURL encodes raw bytes as a base64 data: URL.
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a base64 data: URL into media type and encoded payload.
func ParseDataURL(url string) (mediaType, encoded string, err error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", "", fmt.Errorf("not a data URL: %.32s", url)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("malformed data URL")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", "", fmt.Errorf("data URL is not base64 encoded")
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return mediaType, payload, nil
}
