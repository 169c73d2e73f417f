package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/agentgraph/store"
)

// StateSnapshot is the inspectable view of a thread at its latest checkpoint.
type StateSnapshot struct {
	// Values is the merged state.
	Values State

	// Next are the nodes scheduled for the next super-step. Empty means the
	// run finished.
	Next []string

	// Step is the checkpoint's super-step number.
	Step int

	// CheckpointID identifies the checkpoint the snapshot was read from.
	CheckpointID string

	// CreatedAt is the checkpoint's creation time.
	CreatedAt time.Time

	// Interrupt is the pending interrupt marker, nil when not interrupted.
	Interrupt *store.InterruptRecord

	// Metadata recorded on the checkpoint.
	Metadata map[string]any
}

// runState is the mutable cursor of one execution.
type runState struct {
	state            State
	pending          []string
	step             int
	lastCheckpointID string
}

type dynamicInterrupt struct {
	node   string
	reason string
	data   any
}

type nodeResult struct {
	out       *NodeOutput
	err       error
	interrupt *dynamicInterrupt
}

// Invoke runs the graph to completion, an interrupt, or an error. Input
// contributions are merged through the channel reducers on top of the schema
// defaults, or on top of the thread's latest checkpoint when cfg names a
// thread that already ran: invoking a known thread resumes it.
//
// An interrupted run returns a *GraphInterrupt, recognizable with errors.As;
// any other non-nil error is a failure and nothing of the failed step was
// persisted.
func (r *Runnable) Invoke(ctx context.Context, input map[string]any, cfg *ExecutionConfig) (State, error) {
	return r.run(ctx, input, cfg, nil, false)
}

// Stream runs the graph like Invoke while emitting StreamEvents filtered by
// mode. The stream is a pure observer: abandoning it cancels nothing, and
// Cancel aborts the run itself. Events is closed after the terminal done,
// interrupt, or error event.
func (r *Runnable) Stream(ctx context.Context, input map[string]any, cfg *ExecutionConfig, mode StreamMode) (*StreamResult, error) {
	if mode == "" {
		mode = StreamModeValues
	}
	runCtx, cancel := context.WithCancel(ctx)
	em := newEmitter(mode)

	go func() {
		defer close(em.ch)
		_, err := r.run(runCtx, input, cfg, em, false)
		if err != nil {
			var gi *GraphInterrupt
			if errors.As(err, &gi) {
				// The interrupt event was emitted by the loop.
				return
			}
			em.emit(runCtx, StreamEvent{Type: EventError, Error: err})
		}
	}()

	return &StreamResult{Events: em.ch, Cancel: cancel}, nil
}

// Resume continues an interrupted thread from its latest checkpoint. The
// interrupted nodes re-execute against the checkpointed state.
func (r *Runnable) Resume(ctx context.Context, cfg *ExecutionConfig) (State, error) {
	if r.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	if cfg == nil || cfg.ThreadID == "" {
		return nil, ErrNoThreadID
	}
	return r.run(ctx, nil, cfg, nil, true)
}

// ResumeWithValue resumes and hands value to the re-executing node; the
// Interrupt helper returns it instead of pausing again.
func (r *Runnable) ResumeWithValue(ctx context.Context, cfg *ExecutionConfig, value any) (State, error) {
	if cfg == nil || cfg.ThreadID == "" {
		return nil, ErrNoThreadID
	}
	c := *cfg
	c.ResumeValue = value
	return r.Resume(ctx, &c)
}

// ResumeWithValues merges values into the thread's state through the channel
// reducers before resuming, recording the edit as its own checkpoint.
func (r *Runnable) ResumeWithValues(ctx context.Context, cfg *ExecutionConfig, values map[string]any) (State, error) {
	if r.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	if cfg == nil || cfg.ThreadID == "" {
		return nil, ErrNoThreadID
	}
	if len(values) > 0 {
		if _, err := r.UpdateState(ctx, cfg.ThreadID, values); err != nil {
			return nil, err
		}
	}
	return r.run(ctx, nil, cfg, nil, true)
}

// GetState returns the thread's latest checkpoint as a snapshot.
func (r *Runnable) GetState(ctx context.Context, threadID string) (*StateSnapshot, error) {
	if r.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	if threadID == "" {
		return nil, ErrNoThreadID
	}
	cp, err := r.checkpointer.LoadLatest(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{Op: "load", ThreadID: threadID, Err: err}
	}
	return &StateSnapshot{
		Values:       CloneState(cp.State),
		Next:         slices.Clone(cp.PendingNodes),
		Step:         cp.Step,
		CheckpointID: cp.ID,
		CreatedAt:    cp.CreatedAt,
		Interrupt:    cp.Interrupt,
		Metadata:     cp.Metadata,
	}, nil
}

// UpdateState merges updates into the thread's latest state through the
// channel reducers and records the result as a new checkpoint, clearing any
// pending interrupt marker. It returns the new checkpoint's id.
func (r *Runnable) UpdateState(ctx context.Context, threadID string, updates map[string]any) (string, error) {
	if r.checkpointer == nil {
		return "", ErrNoCheckpointer
	}
	if threadID == "" {
		return "", ErrNoThreadID
	}
	cp, err := r.checkpointer.LoadLatest(ctx, threadID)
	if err != nil {
		return "", &CheckpointError{Op: "load", ThreadID: threadID, Err: err}
	}

	state := CloneState(cp.State)
	if err := r.mergeInput(state, updates); err != nil {
		return "", err
	}

	next := &store.Checkpoint{
		ID:           newCheckpointID(),
		ThreadID:     threadID,
		Step:         cp.Step + 1,
		State:        state,
		PendingNodes: slices.Clone(cp.PendingNodes),
		Metadata:     map[string]any{"source": "update_state"},
		CreatedAt:    time.Now(),
	}
	if err := r.checkpointer.Save(ctx, next); err != nil {
		return "", &CheckpointError{Op: "save", ThreadID: threadID, Err: err}
	}
	return next.ID, nil
}

// History returns every checkpoint of the thread in step order.
func (r *Runnable) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	if r.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	if threadID == "" {
		return nil, ErrNoThreadID
	}
	cps, err := r.checkpointer.List(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{Op: "list", ThreadID: threadID, Err: err}
	}
	return cps, nil
}

func (r *Runnable) run(ctx context.Context, input map[string]any, cfg *ExecutionConfig, em *emitter, resuming bool) (State, error) {
	if cfg == nil {
		cfg = &ExecutionConfig{}
	}
	limit := r.recursionLimit
	if cfg.RecursionLimit > 0 {
		limit = cfg.RecursionLimit
	}
	if cfg.ResumeValue != nil {
		ctx = WithResumeValue(ctx, cfg.ResumeValue)
	}

	rs, err := r.prepare(ctx, input, cfg, resuming)
	if err != nil {
		return nil, err
	}
	return r.loop(ctx, rs, cfg, em, limit, resuming)
}

// prepare establishes the starting cursor: the named checkpoint for time
// travel, the thread's latest checkpoint for resumption, or a fresh state
// from the schema defaults.
func (r *Runnable) prepare(ctx context.Context, input map[string]any, cfg *ExecutionConfig, resuming bool) (*runState, error) {
	persisted := r.checkpointer != nil && cfg.ThreadID != ""

	if persisted {
		var (
			cp  *store.Checkpoint
			err error
		)
		if cfg.ResumeFrom != "" {
			cp, err = r.checkpointer.Load(ctx, cfg.ResumeFrom)
			if err != nil {
				return nil, &CheckpointError{Op: "load", ThreadID: cfg.ThreadID, Err: err}
			}
		} else {
			cp, err = r.checkpointer.LoadLatest(ctx, cfg.ThreadID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, &CheckpointError{Op: "load", ThreadID: cfg.ThreadID, Err: err}
			}
			if err != nil && resuming {
				return nil, &CheckpointError{Op: "load", ThreadID: cfg.ThreadID, Err: err}
			}
		}
		if cp != nil {
			rs := &runState{
				state:            CloneState(cp.State),
				pending:          slices.Clone(cp.PendingNodes),
				step:             cp.Step,
				lastCheckpointID: cp.ID,
			}
			if err := r.mergeInput(rs.state, input); err != nil {
				return nil, err
			}
			if cfg.ResumeFrom != "" && cp.ThreadID != cfg.ThreadID {
				// Fork: replay the loaded checkpoint under the new thread so
				// its history starts without a gap. An interrupt marker on
				// the source carries over; the fork is suspended at the same
				// point its origin was.
				meta := map[string]any{"source": "fork", "forked_from": cp.ID}
				if err := r.saveCheckpoint(ctx, cfg, rs, cp.Interrupt, meta); err != nil {
					return nil, err
				}
			}
			return rs, nil
		}
	} else if resuming {
		return nil, ErrNoCheckpointer
	}

	state := r.schema.InitializeState()
	if err := r.mergeInput(state, input); err != nil {
		return nil, err
	}
	rs := &runState{
		state:   state,
		pending: slices.Clone(r.entry),
	}
	if persisted {
		// Step 0 records the initial state before any node ran. If the run
		// will suspend on an entry node, the marker is durable from the
		// start.
		if err := r.saveCheckpoint(ctx, cfg, rs, r.staticInterruptRecord(rs.pending), nil); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// loop drives the super-steps: dispatch, execute, merge, route, checkpoint.
func (r *Runnable) loop(ctx context.Context, rs *runState, cfg *ExecutionConfig, em *emitter, limit int, resuming bool) (State, error) {
	persisted := r.checkpointer != nil && cfg.ThreadID != ""

	// A resumed run skips the pre-execution interrupt check once, otherwise
	// an interrupt_before node could never run.
	skipBefore := resuming

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		active := r.activeNodes(rs.pending)
		if len(active) == 0 {
			em.emit(ctx, StreamEvent{Type: EventDone, Step: rs.step, State: CloneState(rs.state)})
			return rs.state, nil
		}
		if iteration >= limit {
			return nil, &RecursionLimitError{Limit: limit}
		}
		for _, name := range active {
			if _, ok := r.nodes[name]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
			}
		}

		if !skipBefore {
			for _, name := range active {
				if r.interruptBefore[name] {
					gi := &GraphInterrupt{
						Node:         name,
						Reason:       "interrupt_before",
						State:        CloneState(rs.state),
						NextNodes:    slices.Clone(active),
						CheckpointID: rs.lastCheckpointID,
					}
					em.emit(ctx, StreamEvent{Type: EventInterrupt, Node: name, Step: rs.step, State: CloneState(rs.state)})
					return rs.state, gi
				}
			}
		}
		skipBefore = false

		r.logger.Debug("step %d: executing %v", rs.step+1, active)
		results := r.executeStep(ctx, active, rs, cfg, em)

		// Failures win over interrupts and merges: nothing of a failed step
		// is merged or persisted.
		if err := collectErrors(active, results, rs.step+1); err != nil {
			r.logger.Error("step %d failed: %v", rs.step+1, err)
			return nil, err
		}

		merged, interrupts, err := r.mergeStep(ctx, active, results, rs, em)
		if err != nil {
			return nil, err
		}

		next, err := r.routeStep(ctx, merged, rs.state)
		if err != nil {
			return nil, err
		}

		// Interrupted nodes re-run on resume, ahead of the routed successors.
		pendingNext := make([]string, 0, len(interrupts)+len(next))
		for _, di := range interrupts {
			pendingNext = append(pendingNext, di.node)
		}
		for _, t := range next {
			if !slices.Contains(pendingNext, t) {
				pendingNext = append(pendingNext, t)
			}
		}

		rs.step++
		rs.pending = pendingNext
		em.emit(ctx, StreamEvent{Type: EventValues, Step: rs.step, State: CloneState(rs.state)})

		// The checkpoint for this step carries the interrupt marker for
		// whatever suspend point the run is at: a dynamic interrupt wins,
		// then a static interrupt_after on a merged node, then an
		// interrupt_before on a node the step just scheduled. A restarted
		// process can then tell "awaiting input" apart from "in progress".
		var ir *store.InterruptRecord
		switch {
		case len(interrupts) > 0:
			first := interrupts[0]
			payload, perr := json.Marshal(first.data)
			if perr != nil {
				return nil, &NodeExecutionError{
					Node: first.node,
					Step: rs.step,
					Err:  fmt.Errorf("marshal interrupt payload: %w", perr),
				}
			}
			ir = &store.InterruptRecord{Node: first.node, Reason: first.reason, Payload: payload}
		default:
			if name := firstMarked(merged, r.interruptAfter); name != "" {
				ir = &store.InterruptRecord{Node: name, Reason: "interrupt_after"}
			} else {
				ir = r.staticInterruptRecord(rs.pending)
			}
		}

		if persisted {
			if err := r.saveCheckpoint(ctx, cfg, rs, ir, nil); err != nil {
				return nil, err
			}
		}

		if len(interrupts) > 0 {
			first := interrupts[0]
			em.emit(ctx, StreamEvent{Type: EventInterrupt, Node: first.node, Step: rs.step, State: CloneState(rs.state)})
			return rs.state, &GraphInterrupt{
				Node:         first.node,
				Reason:       first.reason,
				Value:        first.data,
				State:        CloneState(rs.state),
				NextNodes:    slices.Clone(rs.pending),
				CheckpointID: rs.lastCheckpointID,
			}
		}

		if name := firstMarked(merged, r.interruptAfter); name != "" {
			em.emit(ctx, StreamEvent{Type: EventInterrupt, Node: name, Step: rs.step, State: CloneState(rs.state)})
			return rs.state, &GraphInterrupt{
				Node:         name,
				Reason:       "interrupt_after",
				State:        CloneState(rs.state),
				NextNodes:    slices.Clone(rs.pending),
				CheckpointID: rs.lastCheckpointID,
			}
		}
	}
}

// executeStep runs every active node concurrently, each against its own
// snapshot of the state. All nodes run to completion before any result is
// inspected, so sibling outcomes never affect each other mid-step.
func (r *Runnable) executeStep(ctx context.Context, active []string, rs *runState, cfg *ExecutionConfig, em *emitter) map[string]*nodeResult {
	results := make(map[string]*nodeResult, len(active))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range active {
		node := r.nodes[name]
		nc := &NodeContext{
			State:    CloneState(rs.state),
			Step:     rs.step + 1,
			ThreadID: cfg.ThreadID,
			Metadata: cfg.Metadata,
		}

		wg.Add(1)
		go func(name string, node Node, nc *NodeContext) {
			defer wg.Done()
			res := &nodeResult{}
			start := time.Now()
			defer func() {
				if p := recover(); p != nil {
					res.err = fmt.Errorf("node %s panicked: %v", name, p)
				}
				em.emit(ctx, StreamEvent{
					Type:     EventNodeEnd,
					Node:     name,
					Step:     nc.Step,
					Error:    res.err,
					Duration: time.Since(start),
				})
				mu.Lock()
				results[name] = res
				mu.Unlock()
			}()
			em.emit(ctx, StreamEvent{Type: EventNodeStart, Node: name, Step: nc.Step})
			res.out, res.err = r.executeNode(ctx, node, nc)
		}(name, node, nc)
	}
	wg.Wait()

	// A NodeInterrupt error and an interrupting NodeOutput are the same
	// request through different channels; normalize both here.
	for _, name := range active {
		res := results[name]
		if res.err != nil {
			var ni *NodeInterrupt
			if errors.As(res.err, &ni) {
				ni.Node = name
				res.err = nil
				res.interrupt = &dynamicInterrupt{node: name, reason: "interrupt", data: ni.Value}
			}
			continue
		}
		if res.out != nil && res.out.Interrupt != nil {
			res.interrupt = &dynamicInterrupt{
				node:   name,
				reason: res.out.Interrupt.Reason,
				data:   res.out.Interrupt.Data,
			}
		}
	}
	return results
}

func (r *Runnable) executeNode(ctx context.Context, node Node, nc *NodeContext) (*NodeOutput, error) {
	if r.retryPolicy != nil {
		if _, wrapped := node.(*RetryNode); !wrapped {
			return r.retryPolicy.execute(ctx, node.Name(), func() (*NodeOutput, error) {
				return node.Execute(ctx, nc)
			})
		}
	}
	return node.Execute(ctx, nc)
}

// collectErrors aggregates a step's failures. The first failing node in
// registration order names the error; siblings are attached via errors.Join.
func collectErrors(active []string, results map[string]*nodeResult, step int) error {
	var (
		errs      []error
		firstNode string
	)
	for _, name := range active {
		if res := results[name]; res.err != nil {
			if firstNode == "" {
				firstNode = name
			}
			errs = append(errs, res.err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errs[0]
	if len(errs) > 1 {
		err = errors.Join(errs...)
	}
	return &NodeExecutionError{Node: firstNode, Step: step, Err: err}
}

// mergeStep folds the step's outputs into the state, node by node in
// registration order, channels in name order within a node. Interrupting
// nodes contribute nothing; their updates are withheld until they re-run.
func (r *Runnable) mergeStep(ctx context.Context, active []string, results map[string]*nodeResult, rs *runState, em *emitter) (merged []string, interrupts []*dynamicInterrupt, err error) {
	for _, name := range active {
		res := results[name]
		if res.interrupt != nil {
			interrupts = append(interrupts, res.interrupt)
			continue
		}
		merged = append(merged, name)
		if res.out == nil || len(res.out.Updates) == 0 {
			continue
		}

		channels := slices.Sorted(maps.Keys(res.out.Updates))
		var messages map[string]any
		for _, ch := range channels {
			if err := r.schema.ApplyUpdate(rs.state, ch, res.out.Updates[ch]); err != nil {
				var cnf *ChannelNotFoundError
				if errors.As(err, &cnf) {
					cnf.Node = name
				}
				return nil, nil, err
			}
			if r.schema.IsMessageChannel(ch) {
				if messages == nil {
					messages = make(map[string]any)
				}
				messages[ch] = res.out.Updates[ch]
			}
		}

		em.emit(ctx, StreamEvent{Type: EventUpdates, Node: name, Step: rs.step + 1, Updates: maps.Clone(res.out.Updates)})
		if len(messages) > 0 {
			em.emit(ctx, StreamEvent{Type: EventMessages, Node: name, Step: rs.step + 1, Updates: messages})
		}
	}
	return merged, interrupts, nil
}

// routeStep computes the next active set from the merged nodes, in
// registration order. Routers see the fully merged state of the step. END is
// always a legal router target; any other undeclared target is a
// RoutingError.
func (r *Runnable) routeStep(ctx context.Context, merged []string, state State) ([]string, error) {
	var next []string
	add := func(t string) {
		if t != END && !slices.Contains(next, t) {
			next = append(next, t)
		}
	}

	for _, name := range merged {
		if ce, ok := r.conditional[name]; ok {
			target := ce.router(ctx, CloneState(state))
			if target != END && !slices.Contains(ce.targets, target) {
				return nil, &RoutingError{Node: name, Target: target, Declared: slices.Clone(ce.targets)}
			}
			add(target)
			continue
		}
		for _, t := range r.successors[name] {
			add(t)
		}
	}
	return next, nil
}

// activeNodes dedupes the pending set, drops END, and orders the remainder
// by node registration.
func (r *Runnable) activeNodes(pending []string) []string {
	seen := make(map[string]bool, len(pending))
	var active []string
	for _, name := range pending {
		if name == END || seen[name] {
			continue
		}
		seen[name] = true
		active = append(active, name)
	}
	return r.registrationOrder(active)
}

// mergeInput folds external contributions into the state through the channel
// reducers, in channel name order for determinism.
func (r *Runnable) mergeInput(state State, input map[string]any) error {
	for _, k := range slices.Sorted(maps.Keys(input)) {
		if err := r.schema.ApplyUpdate(state, k, input[k]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runnable) saveCheckpoint(ctx context.Context, cfg *ExecutionConfig, rs *runState, ir *store.InterruptRecord, extra map[string]any) error {
	cp := &store.Checkpoint{
		ID:           newCheckpointID(),
		ThreadID:     cfg.ThreadID,
		Step:         rs.step,
		State:        CloneState(rs.state),
		PendingNodes: slices.Clone(rs.pending),
		Interrupt:    ir,
		Metadata:     mergeMetadata(cfg.Metadata, extra),
		CreatedAt:    time.Now(),
	}
	if err := r.checkpointer.Save(ctx, cp); err != nil {
		return &CheckpointError{Op: "save", ThreadID: cfg.ThreadID, Err: err}
	}
	rs.lastCheckpointID = cp.ID
	r.logger.Debug("saved checkpoint %s (thread %s, step %d)", cp.ID, cp.ThreadID, cp.Step)
	return nil
}

// staticInterruptRecord names the first pending node declared as an
// interrupt_before suspend point. The checkpoint that schedules such a node
// already carries the marker a later resume clears.
func (r *Runnable) staticInterruptRecord(pending []string) *store.InterruptRecord {
	if name := firstMarked(pending, r.interruptBefore); name != "" {
		return &store.InterruptRecord{Node: name, Reason: "interrupt_before"}
	}
	return nil
}

func firstMarked(names []string, set map[string]bool) string {
	for _, n := range names {
		if set[n] {
			return n
		}
	}
	return ""
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if base == nil && extra == nil {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

func newCheckpointID() string {
	return "checkpoint_" + uuid.New().String()
}
