package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// StageFunc is a unit of work: it receives the current state and returns the
// next one. A non-nil error means the stage failed; the engine records it and
// follows the stage's failure edge. Stages must not retain or mutate the
// State they were given beyond the value they return.
type StageFunc func(ctx context.Context, s State) (State, error)

// RouteFunc inspects the state after a stage completes and picks the edge to
// follow. It must only emit outcomes the stage declared in its Route.
type RouteFunc func(s State) Outcome

// Route couples a routing function with the closed set of outcomes it can
// emit. Build verifies each declared outcome has an edge.
type Route struct {
	Fn    RouteFunc
	Emits []Outcome
}

// Always is a route that unconditionally emits the given outcome.
func Always(o Outcome) Route {
	return Route{
		Fn:    func(State) Outcome { return o },
		Emits: []Outcome{o},
	}
}

type stageDef struct {
	name     StageName
	fn       StageFunc
	requires []StageName
	failTo   StageName
	route    Route
	edges    map[Outcome]StageName
}

// Builder accumulates stages and edges and validates the whole graph at
// Build time.
type Builder struct {
	stages map[StageName]*stageDef
	order  []StageName
	entry  StageName
	errs   []error
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{stages: make(map[StageName]*stageDef)}
}

// Register adds a stage to the graph. Registering the same name twice or a
// terminal name is a build error.
func (b *Builder) Register(name StageName, fn StageFunc) *Builder {
	if name == StageEnd {
		b.errs = append(b.errs, fmt.Errorf("stage name %q is reserved", name))
		return b
	}
	if _, exists := b.stages[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("stage %q registered twice", name))
		return b
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("stage %q has a nil function", name))
		return b
	}
	failTo := StageAbort
	if name == StageAbort {
		// The abort stage cannot be its own failure target.
		failTo = StageEnd
	}
	b.stages[name] = &stageDef{name: name, fn: fn, failTo: failTo}
	b.order = append(b.order, name)
	return b
}

// Entry sets the stage the run begins at.
func (b *Builder) Entry(name StageName) *Builder {
	b.entry = name
	return b
}

// Requires declares upstream stages that must have succeeded or been
// explicitly skipped before this stage may run. An unmet dependency aborts
// the run without invoking the stage.
func (b *Builder) Requires(name StageName, upstream ...StageName) *Builder {
	def, ok := b.stages[name]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("requires on unregistered stage %q", name))
		return b
	}
	def.requires = append(def.requires, upstream...)
	return b
}

// OnFailure overrides the stage's failure edge (default: abort).
func (b *Builder) OnFailure(name, to StageName) *Builder {
	def, ok := b.stages[name]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("failure edge on unregistered stage %q", name))
		return b
	}
	def.failTo = to
	return b
}

// Connect attaches the stage's routing function and its outcome edges.
func (b *Builder) Connect(from StageName, route Route, edges map[Outcome]StageName) *Builder {
	def, ok := b.stages[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("connect from unregistered stage %q", from))
		return b
	}
	if def.route.Fn != nil {
		b.errs = append(b.errs, fmt.Errorf("stage %q connected twice", from))
		return b
	}
	def.route = route
	def.edges = edges
	return b
}

// Build validates the graph and returns it. Validation requires: a registered
// entry stage, a route with at least one edge on every stage, an edge for
// every declared outcome (and no edge for undeclared ones), and every edge
// target registered or terminal. A graph without its own abort stage gets a
// pass-through one.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)

	// Failure edges default to the abort stage; install a pass-through one
	// when the graph does not define its own.
	if _, ok := b.stages[StageAbort]; !ok {
		b.stages[StageAbort] = &stageDef{
			name:   StageAbort,
			fn:     func(_ context.Context, s State) (State, error) { return s, nil },
			failTo: StageEnd,
			route:  Always(OutcomeEnd),
			edges:  map[Outcome]StageName{OutcomeEnd: StageEnd},
		}
		b.order = append(b.order, StageAbort)
	}

	if b.entry == "" {
		errs = append(errs, errors.New("graph has no entry stage"))
	} else if _, ok := b.stages[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry stage %q is not registered", b.entry))
	}

	for _, name := range b.order {
		def := b.stages[name]

		if def.route.Fn == nil {
			errs = append(errs, fmt.Errorf("stage %q has no routing function", name))
			continue
		}
		if len(def.route.Emits) == 0 {
			errs = append(errs, fmt.Errorf("stage %q declares no outcomes", name))
		}

		declared := make(map[Outcome]bool, len(def.route.Emits))
		for _, o := range def.route.Emits {
			declared[o] = true
			if _, ok := def.edges[o]; !ok {
				errs = append(errs, fmt.Errorf("stage %q: declared outcome %q has no edge", name, o))
			}
		}
		for o, to := range def.edges {
			if !declared[o] {
				errs = append(errs, fmt.Errorf("stage %q: edge for undeclared outcome %q", name, o))
			}
			if err := b.checkTarget(name, to); err != nil {
				errs = append(errs, err)
			}
		}
		if err := b.checkTarget(name, def.failTo); err != nil {
			errs = append(errs, err)
		}
		for _, up := range def.requires {
			if _, ok := b.stages[up]; !ok {
				errs = append(errs, fmt.Errorf("stage %q requires unregistered stage %q", name, up))
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid stage graph: %w", errors.Join(errs...))
	}

	return &Graph{stages: b.stages, entry: b.entry}, nil
}

func (b *Builder) checkTarget(from, to StageName) error {
	if to == StageEnd {
		return nil
	}
	if _, ok := b.stages[to]; !ok {
		return fmt.Errorf("stage %q routes to unregistered stage %q", from, to)
	}
	return nil
}

// Graph is a validated, immutable stage graph ready to run.
type Graph struct {
	stages map[StageName]*stageDef
	entry  StageName
}

// Stages returns the registered stage names (unordered).
func (g *Graph) Stages() []StageName {
	names := make([]StageName, 0, len(g.stages))
	for name := range g.stages {
		names = append(names, name)
	}
	return names
}
