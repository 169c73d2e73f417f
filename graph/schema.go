package graph

import "fmt"

// ReducerKind selects how concurrent contributions to a channel are merged.
type ReducerKind int

const (
	// Overwrite replaces the previous value. This is the default.
	Overwrite ReducerKind = iota

	// Append concatenates contributions onto a list. A non-list contribution
	// is wrapped as a single element.
	Append

	// Sum adds numeric contributions to the previous value.
	Sum

	// Custom applies a user-supplied ReducerFunc. The function must be pure:
	// same inputs, same output, no side effects.
	Custom
)

func (k ReducerKind) String() string {
	switch k {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	case Sum:
		return "sum"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("reducer(%d)", int(k))
	}
}

// ReducerFunc merges a contribution into the current channel value.
type ReducerFunc func(current, new any) (any, error)

// Channel declares one key of the shared state together with its merge
// behavior and initial value.
type Channel struct {
	// Name is the channel key in the state map.
	Name string

	// Kind selects the reducer.
	Kind ReducerKind

	// Fn is the reducer function, only used when Kind is Custom.
	Fn ReducerFunc

	// Default is the initial value applied by InitializeState.
	Default any

	// Message marks the channel as conversational; the messages stream mode
	// forwards updates to marked channels.
	Message bool
}

// NewChannel returns an overwrite channel with a nil default.
func NewChannel(name string) Channel {
	return Channel{Name: name, Kind: Overwrite}
}

// ListChannel returns an append channel defaulting to an empty list.
func ListChannel(name string) Channel {
	return Channel{Name: name, Kind: Append, Default: []any{}}
}

// CounterChannel returns a sum channel defaulting to zero.
func CounterChannel(name string) Channel {
	return Channel{Name: name, Kind: Sum, Default: 0}
}

// StateSchema is the declared set of channels. Contributions to channels
// outside the schema are rejected, never silently accepted.
type StateSchema struct {
	channels map[string]Channel
	order    []string
}

// StateSchemaBuilder accumulates channel declarations for a StateSchema.
type StateSchemaBuilder struct {
	channels []Channel
}

// NewStateSchema creates an empty schema builder.
func NewStateSchema() *StateSchemaBuilder {
	return &StateSchemaBuilder{}
}

// Channel declares an overwrite channel.
func (b *StateSchemaBuilder) Channel(name string) *StateSchemaBuilder {
	b.channels = append(b.channels, NewChannel(name))
	return b
}

// ListChannel declares an append channel with an empty-list default.
func (b *StateSchemaBuilder) ListChannel(name string) *StateSchemaBuilder {
	b.channels = append(b.channels, ListChannel(name))
	return b
}

// CounterChannel declares a sum channel with a zero default.
func (b *StateSchemaBuilder) CounterChannel(name string) *StateSchemaBuilder {
	b.channels = append(b.channels, CounterChannel(name))
	return b
}

// MessageChannel declares an append channel marked conversational.
func (b *StateSchemaBuilder) MessageChannel(name string) *StateSchemaBuilder {
	ch := ListChannel(name)
	ch.Message = true
	b.channels = append(b.channels, ch)
	return b
}

// ChannelWithReducer declares a channel with a custom reducer function.
func (b *StateSchemaBuilder) ChannelWithReducer(name string, fn ReducerFunc) *StateSchemaBuilder {
	b.channels = append(b.channels, Channel{Name: name, Kind: Custom, Fn: fn})
	return b
}

// ChannelWithDefault declares an overwrite channel with an initial value.
func (b *StateSchemaBuilder) ChannelWithDefault(name string, def any) *StateSchemaBuilder {
	b.channels = append(b.channels, Channel{Name: name, Kind: Overwrite, Default: def})
	return b
}

// Add declares a fully specified channel.
func (b *StateSchemaBuilder) Add(ch Channel) *StateSchemaBuilder {
	b.channels = append(b.channels, ch)
	return b
}

// Build materializes the schema. Duplicate channel names and custom channels
// without a function are definition errors.
func (b *StateSchemaBuilder) Build() (*StateSchema, error) {
	s := &StateSchema{channels: make(map[string]Channel, len(b.channels))}
	for _, ch := range b.channels {
		if ch.Name == "" {
			return nil, &CompileError{Reason: "channel with empty name"}
		}
		if _, dup := s.channels[ch.Name]; dup {
			return nil, &CompileError{Reason: fmt.Sprintf("duplicate channel %q", ch.Name)}
		}
		if ch.Kind == Custom && ch.Fn == nil {
			return nil, &CompileError{Reason: fmt.Sprintf("channel %q declared custom without a reducer function", ch.Name)}
		}
		s.channels[ch.Name] = ch
		s.order = append(s.order, ch.Name)
	}
	return s, nil
}

// MustBuild is Build for schemas known valid at author time.
func (b *StateSchemaBuilder) MustBuild() *StateSchema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// SimpleSchema builds a schema of overwrite channels, one per name.
func SimpleSchema(names ...string) *StateSchema {
	b := NewStateSchema()
	for _, name := range names {
		b.Channel(name)
	}
	return b.MustBuild()
}

// Channels returns the declared channels in declaration order.
func (s *StateSchema) Channels() []Channel {
	out := make([]Channel, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.channels[name])
	}
	return out
}

// Has reports whether the channel is declared.
func (s *StateSchema) Has(name string) bool {
	_, ok := s.channels[name]
	return ok
}

// IsMessageChannel reports whether the channel carries conversational
// messages. A declared channel named "messages" is conversational without an
// explicit marker.
func (s *StateSchema) IsMessageChannel(name string) bool {
	ch, ok := s.channels[name]
	return ok && (ch.Message || name == "messages")
}

// InitializeState returns a fresh state with every channel default applied.
func (s *StateSchema) InitializeState() State {
	state := make(State, len(s.channels))
	for name, ch := range s.channels {
		if ch.Default != nil {
			state[name] = cloneValue(ch.Default)
		}
	}
	return state
}

// Get reads a channel value, failing on undeclared channels so typos surface
// instead of materializing as nils.
func (s *StateSchema) Get(state State, name string) (any, error) {
	if !s.Has(name) {
		return nil, &ChannelNotFoundError{Channel: name}
	}
	return state[name], nil
}

// ApplyUpdate merges one contribution into the state in place, using the
// channel's reducer.
func (s *StateSchema) ApplyUpdate(state State, name string, value any) error {
	ch, ok := s.channels[name]
	if !ok {
		return &ChannelNotFoundError{Channel: name}
	}

	current := state[name]
	merged, err := reduce(ch, current, value)
	if err != nil {
		return err
	}
	state[name] = merged
	return nil
}

func reduce(ch Channel, current, value any) (any, error) {
	switch ch.Kind {
	case Overwrite:
		return value, nil
	case Append:
		return appendReduce(ch.Name, current, value)
	case Sum:
		return sumReduce(ch.Name, current, value)
	case Custom:
		return ch.Fn(current, value)
	default:
		return nil, fmt.Errorf("channel %q has unknown reducer kind %d", ch.Name, int(ch.Kind))
	}
}

func appendReduce(name string, current, value any) (any, error) {
	var list []any
	switch cur := current.(type) {
	case nil:
		list = []any{}
	case []any:
		list = append([]any{}, cur...)
	default:
		return nil, &TypeMismatchError{Channel: name, Expected: "a list", Got: current}
	}

	if items, ok := value.([]any); ok {
		return append(list, items...), nil
	}
	// Single elements are wrapped, matching Python-style add semantics.
	return append(list, value), nil
}

func sumReduce(name string, current, value any) (any, error) {
	if current == nil {
		current = 0
	}

	// Two integer operands stay integral and are added exactly; any float
	// operand widens the result to float64.
	if curI, ok := asInt64(current); ok {
		if valI, ok := asInt64(value); ok {
			return int(curI + valI), nil
		}
	}

	curF, ok := asFloat(current)
	if !ok {
		return nil, &TypeMismatchError{Channel: name, Expected: "a number", Got: current}
	}
	valF, ok := asFloat(value)
	if !ok {
		return nil, &TypeMismatchError{Channel: name, Expected: "a number", Got: value}
	}
	return curF + valF, nil
}
