package anthropic

import (
	"errors"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/spetersoncode/hanabi/internal/provider"
)

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return provider.Wrap(err, apiErr.StatusCode, apiErr.Response)
}
