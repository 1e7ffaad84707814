// Package workflow implements the multi-agent dispatcher.
//
// Before the local conversation loop runs, a Dispatcher decides whether the
// turn stays local or is delegated to peer agents. Three strategies exist:
//
//   - routing: classify the conversation into one agent's label and forward
//     the whole conversation to that agent. Unless Force is set, the reserved
//     NO_CLASSIFICATION label keeps the turn local.
//   - workflow: chain every agent in configuration order. The first receives
//     the latest message, each following agent receives the previous answer.
//   - parallel: when the gate classifies the turn as a task, send the latest
//     user message to every agent at once and join the answers under one
//     "### name" heading each. Follow-up questions stay local.
//
// Each Dispatch call moves through the states idle, classifying,
// local-fallback or dispatching, and completed. Transitions are logged and
// reported through WithOnTransition and the optional event stream.
//
// Example:
//
//	d, err := workflow.New(model, cfg.MultiAgents)
//	out, err := d.Dispatch(ctx, history)
//	if out.Local {
//	    // run the conversation loop
//	}
package workflow
