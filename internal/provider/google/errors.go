package google

import (
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/spetersoncode/hanabi/internal/provider"
)

// BlockedError indicates the request was blocked by content filtering.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("request blocked: %s", e.Reason)
}

func blocked(resp *genai.GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return &BlockedError{Reason: string(resp.PromptFeedback.BlockReason)}
	}
	return nil
}

// wrapError categorizes API errors. genai does not expose response
// headers, so Retry-After is unavailable.
func wrapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	return provider.Wrap(err, apiErr.Code, nil)
}
