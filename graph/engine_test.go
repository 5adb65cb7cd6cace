package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastWrite(_, update any) (any, error) { return update, nil }

func TestInvoke_LinearDoubling(t *testing.T) {
	// S1
	schema := Schema{{Key: "value", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("double", NodeFunc(func(state map[string]any) (any, error) {
		return map[string]any{"value": state["value"].(int) * 2}, nil
	}))
	g.AddEdge(Start, "double")
	g.AddEdge("double", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{"value": 5}, nil)
	require.NoError(t, err)
	assert.False(t, result.Interrupted)
	assert.Equal(t, 10, result.State["value"])
}

func TestInvoke_ReducerControlledConcatenation(t *testing.T) {
	// S2
	schema := Schema{{Key: "log", Default: []any{}, Reducer: AppendReducer}}
	g := NewGraph(schema)
	for _, letter := range []string{"a", "b", "c"} {
		letter := letter
		g.AddNode(letter, NodeFunc(func(map[string]any) (any, error) {
			return map[string]any{"log": []any{letter}}, nil
		}))
	}
	g.AddSequence(Start, "a", "b", "c", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, result.State["log"])
}

func TestInvoke_ConditionalRoutingWithMapping(t *testing.T) {
	// S3
	schema := Schema{{Key: "status", Default: "", Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("pass", NodeFunc(func(map[string]any) (any, error) {
		return map[string]any{"status": "passed"}, nil
	}))
	g.AddNode("fail", NodeFunc(func(map[string]any) (any, error) {
		return map[string]any{"status": "failed"}, nil
	}))
	g.AddConditionalEdges(Start, func(_ context.Context, state map[string]any) (any, error) {
		if state["status"] == "error" {
			return "error", nil
		}
		return "ok", nil
	}, map[string]string{"ok": "pass", "error": "fail"})
	g.AddEdge("pass", End)
	g.AddEdge("fail", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{"status": "error"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.State["status"])
}

func TestInvoke_RecursionLimitBreach(t *testing.T) {
	// S4
	schema := Schema{{Key: "c", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("loop", NodeFunc(func(state map[string]any) (any, error) {
		return map[string]any{"c": state["c"].(int) + 1}, nil
	}))
	g.AddEdge(Start, "loop")
	g.AddEdge("loop", "loop")
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	_, err = Invoke(context.Background(), compiled, map[string]any{}, &Options{RecursionLimit: 5})
	require.Error(t, err)
	var limitErr *RecursionLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 5, limitErr.Limit)
	assert.Equal(t, 5, limitErr.Step)
	assert.Equal(t, []string{"loop"}, limitErr.Frontier)
}

func TestInvoke_ManagedRemainingSteps(t *testing.T) {
	// S5
	schema := Schema{
		{Key: "counter", Default: 0, Reducer: lastWrite},
		{Key: "seen", Default: []any{}, Reducer: AppendReducer},
	}
	g := NewGraph(schema)
	g.AddNode("track", NodeFunc(func(state map[string]any) (any, error) {
		return map[string]any{
			"counter": state["counter"].(int) + 1,
			"seen":    []any{state["remaining_steps"]},
		}, nil
	}))
	g.AddConditionalEdges("track", func(_ context.Context, state map[string]any) (any, error) {
		if state["counter"].(int) >= 3 {
			return End, nil
		}
		return "track", nil
	}, nil)
	g.AddEdge(Start, "track")
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{}, &Options{RecursionLimit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, result.State["counter"])
	assert.Equal(t, []any{10, 9, 8}, result.State["seen"])
	_, hasManaged := result.State["remaining_steps"]
	assert.False(t, hasManaged)
}

func TestInvoke_InterruptAndResume(t *testing.T) {
	// S6
	schema := Schema{
		{Key: "value", Default: 0, Reducer: lastWrite},
		{Key: "approved", Default: false, Reducer: lastWrite},
	}
	g := NewGraph(schema)
	g.AddNode("check", func(ctx context.Context, state map[string]any) (any, error) {
		approved, err := Interrupt(ctx, "Approve value 42?")
		if err != nil {
			return nil, err
		}
		return map[string]any{"approved": approved}, nil
	})
	g.AddNode("finalize", NodeFunc(func(state map[string]any) (any, error) {
		return map[string]any{"value": state["value"].(int) * 10}, nil
	}))
	g.AddSequence(Start, "check", "finalize", End)
	store := newMemoryStore()
	compiled, err := g.Compile(CompileOptions{Checkpointer: store})
	require.NoError(t, err)

	opts := &Options{Config: Config{ThreadID: "t1"}}
	first, err := Invoke(context.Background(), compiled, map[string]any{"value": 42}, opts)
	require.NoError(t, err)
	require.True(t, first.Interrupted)
	assert.Equal(t, "Approve value 42?", first.Payload)
	assert.Equal(t, 42, first.State["value"])

	second, err := Invoke(context.Background(), compiled, Resume(true), opts)
	require.NoError(t, err)
	assert.False(t, second.Interrupted)
	assert.Equal(t, 420, second.State["value"])
	assert.Equal(t, true, second.State["approved"])
}

func TestInvoke_CommandRoutingPrecedence(t *testing.T) {
	// S7
	schema := Schema{
		{Key: "value", Default: 0, Reducer: lastWrite},
		{Key: "routed", Default: false, Reducer: lastWrite},
	}
	g := NewGraph(schema)
	g.AddNode("decide", NodeFunc(func(state map[string]any) (any, error) {
		return Command{
			Update: map[string]any{"value": state["value"].(int) + 100},
			Goto:   "finish",
		}, nil
	}))
	g.AddNode("finish", NodeFunc(func(map[string]any) (any, error) {
		return map[string]any{"routed": true}, nil
	}))
	g.AddEdge(Start, "decide")
	g.AddEdge("finish", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{"value": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 101, result.State["value"])
	assert.Equal(t, true, result.State["routed"])
}

func TestInvoke_ResumeWithNilValueStillResumes(t *testing.T) {
	schema := Schema{
		{Key: "answered", Default: false, Reducer: lastWrite},
		{Key: "answer", Default: "unset", Reducer: lastWrite},
	}
	g := NewGraph(schema)
	g.AddNode("ask", func(ctx context.Context, state map[string]any) (any, error) {
		v, err := Interrupt(ctx, "anything to add?")
		if err != nil {
			return nil, err
		}
		return map[string]any{"answered": true, "answer": v}, nil
	})
	g.AddSequence(Start, "ask", End)
	store := newMemoryStore()
	compiled, err := g.Compile(CompileOptions{Checkpointer: store})
	require.NoError(t, err)

	opts := &Options{Config: Config{ThreadID: "nilres"}}
	first, err := Invoke(context.Background(), compiled, map[string]any{}, opts)
	require.NoError(t, err)
	require.True(t, first.Interrupted)

	// A nil resume value is a legitimate answer: the node must continue
	// past Interrupt rather than suspend again.
	second, err := Invoke(context.Background(), compiled, Resume(nil), opts)
	require.NoError(t, err)
	assert.False(t, second.Interrupted)
	assert.Equal(t, true, second.State["answered"])
	assert.Nil(t, second.State["answer"])
}

func TestInvoke_ResumeWithoutPendingInterruptFails(t *testing.T) {
	// Invariant 5: repeating a resume after a successful completion fails.
	schema := Schema{{Key: "value", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("noop", NodeFunc(func(map[string]any) (any, error) {
		return map[string]any{"value": 1}, nil
	}))
	g.AddEdge(Start, "noop")
	g.AddEdge("noop", End)
	store := newMemoryStore()
	compiled, err := g.Compile(CompileOptions{Checkpointer: store})
	require.NoError(t, err)

	opts := &Options{Config: Config{ThreadID: "t2"}}
	_, err = Invoke(context.Background(), compiled, map[string]any{}, opts)
	require.NoError(t, err)

	_, err = Invoke(context.Background(), compiled, Resume(true), opts)
	assert.ErrorIs(t, err, ErrNoPendingInterrupt)
}

func TestCompile_RequiresEntryEdge(t *testing.T) {
	g := NewGraph(Schema{})
	_, err := g.Compile(CompileOptions{})
	assert.ErrorIs(t, err, ErrNoEntryEdge)
}

func TestCompile_RejectsUndefinedNode(t *testing.T) {
	g := NewGraph(Schema{})
	g.AddEdge(Start, "missing")
	_, err := g.Compile(CompileOptions{})
	assert.ErrorIs(t, err, ErrUndefinedNode)
}

func TestInvoke_ParallelFanOutWithCommutativeReducer(t *testing.T) {
	schema := Schema{{Key: "hits", Default: []any{}, Reducer: AppendReducer}}
	g := NewGraph(schema)
	for _, name := range []string{"left", "right", "mid"} {
		name := name
		g.AddNode(name, NodeFunc(func(map[string]any) (any, error) {
			return map[string]any{"hits": []any{name}}, nil
		}))
		g.AddEdge(Start, name)
		g.AddEdge(name, End)
	}
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{}, nil)
	require.NoError(t, err)

	// Fold order over parallel tasks is task-completion order, so only
	// membership is asserted here, not position.
	hits := result.State["hits"].([]any)
	assert.ElementsMatch(t, []any{"left", "right", "mid"}, hits)
}

func TestInvoke_ParallelInterruptDiscardsSiblings(t *testing.T) {
	schema := Schema{
		{Key: "sibling", Default: "", Reducer: lastWrite},
		{Key: "approved", Default: false, Reducer: lastWrite},
	}
	g := NewGraph(schema)

	var siblingRuns atomic.Int32
	g.AddNode("worker", NodeFunc(func(map[string]any) (any, error) {
		siblingRuns.Add(1)
		return map[string]any{"sibling": "done"}, nil
	}))
	g.AddNode("asker", func(ctx context.Context, state map[string]any) (any, error) {
		approved, err := Interrupt(ctx, "approve?")
		if err != nil {
			return nil, err
		}
		return map[string]any{"approved": approved}, nil
	})
	g.AddEdge(Start, "worker")
	g.AddEdge(Start, "asker")
	g.AddEdge("worker", End)
	g.AddEdge("asker", End)

	store := newMemoryStore()
	compiled, err := g.Compile(CompileOptions{Checkpointer: store})
	require.NoError(t, err)

	opts := &Options{Config: Config{ThreadID: "par1"}}
	first, err := Invoke(context.Background(), compiled, map[string]any{}, opts)
	require.NoError(t, err)
	require.True(t, first.Interrupted)
	// The sibling completed but its update is discarded with the step.
	assert.Equal(t, "", first.State["sibling"])

	second, err := Invoke(context.Background(), compiled, Resume(true), opts)
	require.NoError(t, err)
	assert.False(t, second.Interrupted)
	assert.Equal(t, true, second.State["approved"])
	// Resume runs only the interrupting node, never the sibling again.
	assert.Equal(t, int32(1), siblingRuns.Load())
	assert.Equal(t, "", second.State["sibling"])
}

func TestInvoke_NodePanicInParallelStepBecomesCrashError(t *testing.T) {
	schema := Schema{{Key: "v", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("ok", NodeFunc(func(map[string]any) (any, error) {
		return map[string]any{"v": 1}, nil
	}))
	g.AddNode("boom", NodeFunc(func(map[string]any) (any, error) {
		panic("kaboom")
	}))
	g.AddEdge(Start, "ok")
	g.AddEdge(Start, "boom")
	g.AddEdge("ok", End)
	g.AddEdge("boom", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	_, err = Invoke(context.Background(), compiled, map[string]any{}, nil)
	var crash *NodeCrashError
	require.ErrorAs(t, err, &crash)
	assert.Equal(t, "boom", crash.Node)
}

func TestInvoke_NodeErrorBecomesCrashError(t *testing.T) {
	schema := Schema{{Key: "v", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("bad", NodeFunc(func(map[string]any) (any, error) {
		return nil, assert.AnError
	}))
	g.AddEdge(Start, "bad")
	g.AddEdge("bad", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	_, err = Invoke(context.Background(), compiled, map[string]any{}, nil)
	var crash *NodeCrashError
	require.ErrorAs(t, err, &crash)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestInvoke_SendFanOutIsExecutedAndDiscarded(t *testing.T) {
	schema := Schema{{Key: "main", Default: "", Reducer: lastWrite}}
	g := NewGraph(schema)

	var mu sync.Mutex
	var payloads []string
	g.AddNode("sink", NodeFunc(func(state map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, state["item"].(string))
		return map[string]any{"main": "should-never-merge"}, nil
	}))
	g.AddNode("fan", NodeFunc(func(map[string]any) (any, error) {
		return map[string]any{"main": "fanned"}, nil
	}))
	g.AddEdge(Start, "fan")
	g.AddConditionalEdges("fan", func(_ context.Context, _ map[string]any) (any, error) {
		return []Send{
			{Node: "sink", State: map[string]any{"item": "x"}},
			{Node: "sink", State: map[string]any{"item": "y"}},
		}, nil
	}, nil)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{}, nil)
	require.NoError(t, err)

	// Each Send ran with its own alternate state payload...
	assert.Equal(t, []string{"x", "y"}, payloads)
	// ...but contributed neither a frontier entry nor a state update.
	assert.Equal(t, "fanned", result.State["main"])
}

func TestInvoke_ConditionalListOfNames(t *testing.T) {
	schema := Schema{{Key: "hits", Default: []any{}, Reducer: AppendReducer}}
	g := NewGraph(schema)
	for _, name := range []string{"a", "b"} {
		name := name
		g.AddNode(name, NodeFunc(func(map[string]any) (any, error) {
			return map[string]any{"hits": []any{name}}, nil
		}))
		g.AddEdge(name, End)
	}
	g.AddNode("split", NodeFunc(func(map[string]any) (any, error) { return nil, nil }))
	g.AddEdge(Start, "split")
	g.AddConditionalEdges("split", func(_ context.Context, _ map[string]any) (any, error) {
		return []string{"a", "b"}, nil
	}, nil)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "b"}, result.State["hits"].([]any))
}

func TestInvoke_UnmappedConditionalValueFails(t *testing.T) {
	schema := Schema{{Key: "v", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("n", NodeFunc(func(map[string]any) (any, error) { return nil, nil }))
	g.AddEdge(Start, "n")
	g.AddConditionalEdges("n", func(_ context.Context, _ map[string]any) (any, error) {
		return "unknown", nil
	}, map[string]string{"known": End})
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	_, err = Invoke(context.Background(), compiled, map[string]any{}, nil)
	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t, "unknown", routingErr.Value)
}

func TestInvoke_SubgraphNodeMergesChildFinalState(t *testing.T) {
	childSchema := Schema{{Key: "value", Default: 0, Reducer: lastWrite}}
	child := NewGraph(childSchema)
	child.AddNode("double", NodeFunc(func(state map[string]any) (any, error) {
		return map[string]any{"value": state["value"].(int) * 2}, nil
	}))
	child.AddEdge(Start, "double")
	child.AddEdge("double", End)
	compiledChild, err := child.Compile(CompileOptions{})
	require.NoError(t, err)

	parentSchema := Schema{{Key: "value", Default: 0, Reducer: lastWrite}}
	parent := NewGraph(parentSchema)
	parent.AddSubgraphNode("child", compiledChild)
	parent.AddEdge(Start, "child")
	parent.AddEdge("child", End)
	compiledParent, err := parent.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiledParent, map[string]any{"value": 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, result.State["value"])
}

func TestInvoke_NodeContextIsRecoverable(t *testing.T) {
	schema := Schema{{Key: "who", Default: "", Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("reader", func(ctx context.Context, _ map[string]any) (any, error) {
		return map[string]any{"who": NodeContext(ctx)}, nil
	})
	g.AddEdge(Start, "reader")
	g.AddEdge("reader", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	result, err := Invoke(context.Background(), compiled, map[string]any{}, &Options{Context: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.State["who"])
}

func TestInvoke_ContinuesFromLatestCheckpoint(t *testing.T) {
	schema := Schema{{Key: "value", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("inc", NodeFunc(func(state map[string]any) (any, error) {
		return map[string]any{"value": state["value"].(int) + 1}, nil
	}))
	g.AddEdge(Start, "inc")
	g.AddEdge("inc", End)
	store := newMemoryStore()
	compiled, err := g.Compile(CompileOptions{Checkpointer: store})
	require.NoError(t, err)

	opts := &Options{Config: Config{ThreadID: "cont1"}}
	first, err := Invoke(context.Background(), compiled, map[string]any{"value": 1}, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.State["value"])

	// A second invocation on the same thread starts from the persisted
	// state, not from the schema's initial state.
	second, err := Invoke(context.Background(), compiled, map[string]any{}, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, second.State["value"])
}

func TestInvoke_CheckpointsFormAParentChain(t *testing.T) {
	schema := Schema{{Key: "log", Default: []any{}, Reducer: AppendReducer}}
	g := NewGraph(schema)
	for _, letter := range []string{"a", "b"} {
		letter := letter
		g.AddNode(letter, NodeFunc(func(map[string]any) (any, error) {
			return map[string]any{"log": []any{letter}}, nil
		}))
	}
	g.AddSequence(Start, "a", "b", End)
	store := newMemoryStore()
	compiled, err := g.Compile(CompileOptions{Checkpointer: store})
	require.NoError(t, err)

	opts := &Options{Config: Config{ThreadID: "chain1"}}
	_, err = Invoke(context.Background(), compiled, map[string]any{}, opts)
	require.NoError(t, err)

	list, err := store.List(context.Background(), CheckpointConfig{ThreadID: "chain1"}, ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	// list is most-recent-first: list[1] is step 0, list[0] is step 1.
	assert.Nil(t, list[1].ParentID)
	require.NotNil(t, list[0].ParentID)
	assert.Equal(t, list[1].CheckpointID, *list[0].ParentID)
}

func TestResolveFrontier_Deduplicates(t *testing.T) {
	schema := Schema{{Key: "value", Default: 0, Reducer: lastWrite}}
	g := NewGraph(schema)
	g.AddNode("a", NodeFunc(func(map[string]any) (any, error) { return map[string]any{}, nil }))
	g.AddNode("b", NodeFunc(func(map[string]any) (any, error) { return map[string]any{}, nil }))
	g.AddEdge(Start, "a")
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")
	g.AddEdge("b", End)
	compiled, err := g.Compile(CompileOptions{})
	require.NoError(t, err)

	frontier, err := compiled.resolveFrontier(context.Background(), []string{"a"}, map[string]any{}, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, frontier)
}
