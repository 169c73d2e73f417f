package graph

import "context"

// RouteByField routes on the string value of a channel. An unmapped value
// falls back to fallback, so add the fallback to the edge's declared targets.
func RouteByField(channel string, routes map[string]string, fallback string) RouterFunc {
	return func(ctx context.Context, state State) string {
		key, _ := state[channel].(string)
		if target, ok := routes[key]; ok {
			return target
		}
		return fallback
	}
}

// RouteByBool routes on a boolean channel. A missing or non-bool value
// counts as false.
func RouteByBool(channel string, ifTrue, ifFalse string) RouterFunc {
	return func(ctx context.Context, state State) string {
		if b, _ := state[channel].(bool); b {
			return ifTrue
		}
		return ifFalse
	}
}

// RouteMaxIterations loops back to next until the counter channel reaches
// max, then routes to END. Pair it with a counter channel the looping node
// increments.
func RouteMaxIterations(counter string, max int, next string) RouterFunc {
	return func(ctx context.Context, state State) string {
		f, ok := asFloat(state[counter])
		if ok && int(f) >= max {
			return END
		}
		return next
	}
}

// RouteOnError routes to onError when the error channel holds a non-empty
// value, otherwise to onSuccess.
func RouteOnError(channel string, onError, onSuccess string) RouterFunc {
	return func(ctx context.Context, state State) string {
		switch v := state[channel].(type) {
		case nil:
			return onSuccess
		case string:
			if v == "" {
				return onSuccess
			}
		case bool:
			if !v {
				return onSuccess
			}
		}
		return onError
	}
}

// RouterOf wraps a fixed target as a router, useful for testing edges.
func RouterOf(target string) RouterFunc {
	return func(ctx context.Context, state State) string {
		return target
	}
}
