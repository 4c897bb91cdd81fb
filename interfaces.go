package kohai

import (
	"context"
	"encoding/json"
)

// ToolHandler answers one assistant function call. arguments is the call's
// JSON arguments; the returned string is submitted as the call's output.
// A returned error is reported to the assistant as {"error": "..."}.
// Calls without a registered handler are surfaced in Reply.ToolCalls.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (string, error)
