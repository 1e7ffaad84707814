package repl

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spetersoncode/hanabi"
)

// userMessage builds the user message for text with files attached. Each
// file adds a "< path >" marker to the text. Images become image parts,
// everything else a file part; providers without file input inline those.
func userMessage(text, dir string, files []string) (hanabi.Message, error) {
	var b strings.Builder
	b.WriteString(text)
	var parts []hanabi.Part
	for _, f := range files {
		fmt.Fprintf(&b, "\n< %s >", f)
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			return hanabi.Message{}, fmt.Errorf("failed to attach %s: %w", f, err)
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		mt := mediaType(f, data)
		if strings.HasPrefix(mt, "image/") {
			parts = append(parts, hanabi.ImagePart(encoded, mt))
			continue
		}
		parts = append(parts, hanabi.FilePart(f, encoded, mt))
	}
	return hanabi.NewUserMessage(b.String(), parts...), nil
}

func mediaType(name string, data []byte) string {
	mt := mime.TypeByExtension(filepath.Ext(name))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if mt == "application/json" {
		// Several providers reject JSON documents as file input.
		return "text/plain"
	}
	return mt
}
