package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/agent"
	"github.com/spetersoncode/hanabi/agui"
	"github.com/spetersoncode/hanabi/chat"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/remote"
	"github.com/spetersoncode/hanabi/tool"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config()
	writeJSON(w, http.StatusOK, struct {
		DefaultModel *config.DefaultModel `json:"defaultModel"`
		Port         int                  `json:"port"`
		MCPKeys      []string             `json:"mcpKeys"`
	}{cfg.DefaultModel, cfg.Port(), cfg.ServeKeys()})
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]*config.DefaultModel{"defaultModel": s.Config().DefaultModel})
}

// runner builds the turn runner for one request from the current
// configuration.
func (s *Server) runner(r *http.Request, cfg *config.Config) (*chat.Runner, error) {
	m, err := s.newModel(r.Context(), cfg)
	if err != nil {
		return nil, err
	}
	log := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
	return chat.NewRunner(cfg, m, s.tools,
		chat.WithWorkDir(s.workDir),
		chat.WithLogger(log),
		chat.WithDispatcherOptions(s.dispatcherOpts...),
	), nil
}

// modelError reports a model that could not be built. A missing default
// model is a client error on /api/generate and a server error on /api/chat.
func modelError(w http.ResponseWriter, err error, noModel int) {
	var cfgErr *hanabi.ConfigurationError
	switch {
	case errors.Is(err, hanabi.ErrNoDefaultModel):
		writeError(w, noModel, "No default model found.")
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// generate answers one question without streaming. The multi-agent
// dispatcher is not consulted: peers call this endpoint for their share of a
// workflow or parallel turn.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req remote.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	messages := req.Messages
	if len(messages) == 0 {
		if req.Prompt == "" {
			writeError(w, http.StatusBadRequest, "prompt or messages is required")
			return
		}
		messages = []hanabi.Message{hanabi.NewUserMessage(req.Prompt)}
	}

	cfg := s.Config()
	runner, err := s.runner(r, cfg)
	if err != nil {
		modelError(w, err, http.StatusBadRequest)
		return
	}
	reply, err := runner.Turn(r.Context(), agent.NewSession(), chat.Request{
		Messages:         messages,
		MCPKeys:          cfg.ServeKeys(),
		WithAnswerSchema: true,
		Local:            true,
	})
	if errors.Is(err, agent.ErrNoUserMessage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("generate failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(cfg.AnswerSchema) > 0 {
		if args, ok := formatAnswer(reply.Messages); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(args))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": reply.Answer()})
}

// formatAnswer returns the arguments of the last format-answer call.
func formatAnswer(messages []hanabi.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		calls := messages[i].ToolCalls()
		for j := len(calls) - 1; j >= 0; j-- {
			if tool.IsFormatAnswer(calls[j]) && json.Valid([]byte(calls[j].Arguments)) {
				return calls[j].Arguments, true
			}
		}
	}
	return "", false
}

// streamChat streams one turn as AG-UI events over SSE. The run lifecycle
// events are written here so delegated and local turns frame the same way.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request) {
	var req remote.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := agent.CheckTurn(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	cfg := s.Config()
	runner, err := s.runner(r, cfg)
	if err != nil {
		// Peers need a status code they can act on, not an error frame.
		modelError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
	mapper := agui.NewMapper("", "")
	send := func(evs ...events.Event) error {
		for _, ev := range evs {
			if err := agui.WriteSSE(w, ev); err != nil {
				return err
			}
		}
		flusher.Flush()
		return nil
	}

	if err := send(mapper.RunStarted()); err != nil {
		return
	}
	reply, err := runner.Turn(r.Context(), agent.NewSession(), chat.Request{
		Messages:         req.Messages,
		MCPKeys:          cfg.ServeKeys(),
		WithAnswerSchema: req.WithAnswerSchema,
		Streaming:        true,
		Stream: func(e event.Event) error {
			switch e.Type {
			case event.RunStart, event.RunEnd, event.RunError:
				return nil
			}
			return send(mapper.MapEvent(e)...)
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("chat turn failed")
		send(mapper.RunError(err))
		return
	}
	send(mapper.MapEvent(event.Event{Type: event.RunEnd, Messages: reply.Messages})...)
}
