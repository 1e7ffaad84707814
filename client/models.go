package client

import (
	"context"
	"slices"

	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/model"
)

// ListModels returns the model ids offered by the LLM entry's endpoint,
// sorted. When the endpoint cannot be listed the well-known models of the
// provider are returned instead; the error is only reported when there is
// nothing to fall back to.
func ListModels(ctx context.Context, llm config.LLM, opts ...Option) ([]string, error) {
	s := newSettings(opts)
	p, err := adapter(ctx, llm, "", s)
	if err != nil {
		return nil, err
	}

	ids, err := p.ListModels(ctx)
	if err == nil && len(ids) > 0 {
		slices.Sort(ids)
		return slices.Compact(ids), nil
	}

	known := model.ForProvider(llm.Provider)
	if len(known) == 0 {
		return nil, err
	}
	s.log.Warn().Err(err).Str("provider", llm.Provider.String()).Msg("model listing unavailable, using known models")
	ids = make([]string, len(known))
	for i, m := range known {
		ids[i] = m.ID
	}
	return ids, nil
}
