// Package hanabi holds the shared vocabulary of the hanabi chat agent: the
// message tagged union, tool declarations, chat options, the ChatProvider
// interface and the error kinds reported by transports, tools, configuration
// and the dispatcher.
//
// The moving parts live in subpackages:
//
//   - [github.com/spetersoncode/hanabi/mcp]: MCP transports (stdio, SSE,
//     streamable HTTP), the protocol client and the tool registry
//   - [github.com/spetersoncode/hanabi/agent]: the multi-step tool-calling
//     conversation loop
//   - [github.com/spetersoncode/hanabi/workflow]: the multi-agent dispatcher
//   - [github.com/spetersoncode/hanabi/client]: provider construction
//   - [github.com/spetersoncode/hanabi/config]: configuration loading
//
// # Messages
//
// A [Message] carries a role and a sequence of typed [Part] values. The part
// type is the single discriminant:
//
//	msg := hanabi.NewUserMessage("describe this", hanabi.ImagePart(b64, "image/png"))
//	for _, p := range msg.Parts {
//	    switch p.Type {
//	    case hanabi.PartText:
//	        ...
//	    case hanabi.PartImage, hanabi.PartFile:
//	        ...
//	    case hanabi.PartToolCall, hanabi.PartToolResult:
//	        ...
//	    }
//	}
//
// Every tool-call part is eventually answered by a tool-result part carrying
// the same call identifier; [UnansweredToolCalls] reports violations.
package hanabi
