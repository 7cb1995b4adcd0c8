// ABOUTME: Builtin utility tools registered by the gateway at startup
// ABOUTME: Small read-level tools useful for connectivity and scope testing

package builtins

import (
	"context"
	"encoding/json"
	"time"

	"github.com/2389/warden/internal/scope"
	"github.com/2389/warden/internal/tools"
)

// Register adds the builtin tools to the registry. They are deliberately
// low-risk: devices use them to verify connectivity and their granted
// scope without touching anything real.
func Register(reg *tools.Registry) error {
	builtin := []*tools.Tool{
		{
			Name:        "ping",
			Description: "Check gateway connectivity",
			Level:       scope.LevelNone,
			Handler:     ping,
		},
		{
			Name:        "time_now",
			Description: "Current gateway time in UTC",
			Level:       scope.LevelRead,
			Handler:     timeNow,
		},
		{
			Name:        "echo",
			Description: "Echo the request parameters back",
			Level:       scope.LevelRead,
			Handler:     echo,
		},
	}
	for _, t := range builtin {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func ping(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]string{"status": "pong"}, nil
}

func timeNow(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]string{"time": time.Now().UTC().Format(time.RFC3339)}, nil
}

func echo(_ context.Context, params json.RawMessage) (any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
