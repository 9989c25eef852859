// Package toolgate provides in-process governance for Go agent frameworks.
// It wraps tool functions and decides, before each call is dispatched,
// whether the caller's identity may use the tool, whether the call fits the
// rate limit and whether the arguments carry injection markers. Every
// decision is audited.
//
// Usage:
//
//	g, err := toolgate.New(toolgate.WithPolicy("toolgate.yaml"), toolgate.WithIdentity("ops"))
//	wrapped := g.Wrap(deployTool)
//	result, err := wrapped(ctx, toolgate.Call{
//	    Tool: "deploy",
//	    Args: map[string]any{"env": "prod"},
//	})
//
// The SDK links directly against internal packages, so no separate process
// is needed. External users import github.com/ppiankov/toolgate/sdk/go/toolgate.
package toolgate
