package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteByField(t *testing.T) {
	router := RouteByField("intent", map[string]string{
		"search": "searcher",
		"write":  "writer",
	}, "fallback")

	ctx := context.Background()
	assert.Equal(t, "searcher", router(ctx, State{"intent": "search"}))
	assert.Equal(t, "writer", router(ctx, State{"intent": "write"}))
	assert.Equal(t, "fallback", router(ctx, State{"intent": "dance"}))
	assert.Equal(t, "fallback", router(ctx, State{}))
	assert.Equal(t, "fallback", router(ctx, State{"intent": 42}))
}

func TestRouteByBool(t *testing.T) {
	router := RouteByBool("ready", "go", "wait")

	ctx := context.Background()
	assert.Equal(t, "go", router(ctx, State{"ready": true}))
	assert.Equal(t, "wait", router(ctx, State{"ready": false}))
	assert.Equal(t, "wait", router(ctx, State{}))
	assert.Equal(t, "wait", router(ctx, State{"ready": "yes"}))
}

func TestRouteMaxIterations(t *testing.T) {
	router := RouteMaxIterations("turns", 3, "think")

	ctx := context.Background()
	assert.Equal(t, "think", router(ctx, State{"turns": 0}))
	assert.Equal(t, "think", router(ctx, State{"turns": 2}))
	assert.Equal(t, END, router(ctx, State{"turns": 3}))
	assert.Equal(t, END, router(ctx, State{"turns": 7}))
	// A missing counter never terminates the loop on its own.
	assert.Equal(t, "think", router(ctx, State{}))
}

func TestRouteOnError(t *testing.T) {
	router := RouteOnError("err", "recover", "proceed")

	ctx := context.Background()
	assert.Equal(t, "proceed", router(ctx, State{}))
	assert.Equal(t, "proceed", router(ctx, State{"err": ""}))
	assert.Equal(t, "proceed", router(ctx, State{"err": false}))
	assert.Equal(t, "recover", router(ctx, State{"err": "timeout"}))
	assert.Equal(t, "recover", router(ctx, State{"err": true}))
}
