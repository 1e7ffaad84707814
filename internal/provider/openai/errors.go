package openai

import (
	"errors"

	"github.com/openai/openai-go"

	"github.com/spetersoncode/hanabi/internal/provider"
)

// wrapError categorizes API errors. Other errors, usually network failures,
// are returned unchanged.
func wrapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return provider.Wrap(err, apiErr.StatusCode, apiErr.Response)
}
