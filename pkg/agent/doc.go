// Package agent drives the request/respond/act cycle between a model service
// and the tool providers behind a dispatcher.
//
// Invariants:
//   - A query starts from a fresh conversation: the system instruction and the
//     user query. Nothing carries over between queries.
//   - The model's reply is appended verbatim before its tool invocations run.
//   - Tool results are appended in invocation order regardless of which
//     dispatch finishes first.
//   - Cancelling a query never touches the provider sessions.
//
// Usage:
//
//	loop := agent.NewLoop(model, reg, disp, agent.LoopOptions{MaxRounds: 25}, logger)
//	res, err := loop.Run(ctx, "東京の天気は？")
//	fmt.Println(res.Answer)
package agent
