package provider

import (
	"encoding/base64"
	"fmt"

	"github.com/spetersoncode/hanabi"
)

// DefaultMaxTokens is used by providers that require an output limit.
const DefaultMaxTokens = 4096

// ImageURL returns a data URI for inline images, or the part's URL.
func ImageURL(p hanabi.Part) string {
	if p.Data == "" {
		return p.URL
	}
	mime := p.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, p.Data)
}

// InlineFile renders a file part as a fenced text block, for providers that
// cannot take documents.
func InlineFile(p hanabi.Part) string {
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		data = []byte(p.Data)
	}
	return fmt.Sprintf("%s\n```\n%s\n```", p.Filename, data)
}
