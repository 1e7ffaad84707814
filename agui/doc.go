// Package agui connects hanabi's event stream to the AG-UI protocol.
//
// AG-UI (Agent-User Interface) is an event-based protocol for streaming an
// agent run to a user-facing application. hanabi speaks it in both
// directions:
//
//   - [Mapper] converts event.Event values to AG-UI events; the HTTP server
//     writes them with [WriteSSE] on /api/chat.
//   - [Decoder] and [ReadSSE] turn such a stream back into event.Event
//     values, which is how a dispatcher consumes a peer agent's /chat.
//
// Messages convert with [ToMessages] and [FromMessages]. A finished run is
// mapped to a MESSAGES_SNAPSHOT of the produced messages followed by
// RUN_FINISHED:
//
//	mapper := agui.NewMapper(threadID, runID)
//	for ev := range mapper.MapStream(a.RunStream(ctx, messages)) {
//	    if err := agui.WriteSSE(w, ev); err != nil {
//	        return err
//	    }
//	}
//
// Dispatcher transitions and route selections have no AG-UI equivalent and
// travel as CUSTOM events.
//
// The Mapper and Decoder are not safe for concurrent use. Message conversion
// functions are stateless.
package agui
