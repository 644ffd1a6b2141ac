// Package llm sends chat turns to the completion service.
package llm

import (
	"context"
	"strings"

	"github.com/haasonsaas/valet/pkg/models"
)

// Client generates a completion for one chat turn.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest carries one turn's prompt material: the system prompt,
// the capped session history, and optionally an image for vision turns.
type CompletionRequest struct {
	System   string
	Messages []models.Message
	Model    string
	Image    *Image
}

// Image is a base64-encoded attachment for a vision turn.
type Image struct {
	MediaType string
	Data      string
}

// NormalizeImage builds an Image from raw base64 data or a data URL,
// defaulting the media type to PNG (screen captures).
func NormalizeImage(data string) *Image {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil
	}
	img := &Image{MediaType: "image/png", Data: data}
	if !strings.HasPrefix(data, "data:") {
		return img
	}
	rest := strings.TrimPrefix(data, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return img
	}
	if mediaType := rest[:semi]; mediaType != "" {
		img.MediaType = mediaType
	}
	img.Data = rest[semi+len(";base64,"):]
	return img
}
