package kiln

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/junioryono/kiln/internal/compiler"
	"github.com/junioryono/kiln/internal/graph"
	"github.com/junioryono/kiln/internal/jit"
	"github.com/junioryono/kiln/internal/reflection"
	"go.uber.org/zap"
)

// Injector builds object graphs from rules and bindings. Bindings are resolved
// on demand, their recipes assembled and compiled once, and every instance
// request runs the compiled unit through the binding's scope.
//
// An Injector is safe for concurrent use.
type Injector struct {
	id      string
	cfg     Config
	log     *zap.Logger
	metrics *Metrics
	rules   Rules

	analyzer *reflection.Analyzer
	compiler *compiler.Compiler
	graph    *graph.DependencyGraph

	static       []*Binding
	constructors map[reflect.Type][]*reflection.ConstructorInfo

	jit       *jit.Cache[jitKey, *Binding]
	creations *jit.Cache[pointKey, *Binding]
	injectors *jit.Cache[reflect.Type, *MembersInjector]

	// assemblyMu serializes recipe assembly. Running compiled units never takes it.
	assemblyMu sync.Mutex
	assembler  atomic.Uint64 // goroutine holding assemblyMu, or 0
	seq        atomic.Uint64
}

// New creates an Injector. Modules run in order against the default rules;
// constructors and static bindings they register are validated here. In the
// production stage every static binding is assembled and every singleton
// created before New returns.
func New(opts ...Option) (*Injector, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	log := o.log
	if log == nil {
		var err error
		if log, err = o.cfg.logger(); err != nil {
			return nil, err
		}
	}

	metrics, err := newMetrics(o.cfg.MetricsNamespace, o.registerer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	rules := DefaultRules()
	for _, r := range o.rules {
		rules = rules.Merge(r)
	}
	for _, m := range o.modules {
		if m == nil {
			continue
		}
		if err := m(&rules); err != nil {
			return nil, err
		}
	}

	inj := &Injector{
		id:           uuid.NewString(),
		cfg:          o.cfg,
		log:          log.With(zap.String("component", "kiln")),
		metrics:      metrics,
		rules:        rules,
		analyzer:     reflection.New(),
		compiler:     compiler.New(o.cfg.MaxUnitSize, log.Named("compiler")),
		graph:        graph.New(),
		constructors: make(map[reflect.Type][]*reflection.ConstructorInfo),
		jit:          jit.New[jitKey, *Binding](jitKey.flight),
		creations:    jit.New[pointKey, *Binding](pointKey.flight),
		injectors: jit.New[reflect.Type, *MembersInjector](func(t reflect.Type) string {
			return fmt.Sprintf("%p", t)
		}),
	}

	for _, ctor := range rules.Constructors {
		info, err := inj.analyzer.Analyze(ctor)
		if err != nil {
			return nil, InvalidBindingError{Binding: fmt.Sprintf("constructor %T", ctor), Cause: err}
		}
		inj.constructors[info.Result] = append(inj.constructors[info.Result], info)
	}

	for _, sb := range rules.Bindings {
		b, err := inj.newStatic(sb)
		if err != nil {
			return nil, err
		}
		inj.static = append(inj.static, b)
	}

	inj.log.Debug("injector created",
		zap.String("id", inj.id),
		zap.Stringer("stage", inj.cfg.Stage),
		zap.Int("bindings", len(inj.static)),
		zap.Int("constructors", len(rules.Constructors)),
	)

	if inj.cfg.Stage == Production {
		if err := inj.eager(context.Background()); err != nil {
			return nil, err
		}
	}

	return inj, nil
}

// eager assembles every static binding and creates the singletons among them
// and their dependencies, dependencies first.
func (inj *Injector) eager(ctx context.Context) error {
	for _, b := range inj.static {
		if err := inj.ready(b); err != nil {
			return inj.fail("assemble", b.key, err)
		}
	}

	sorted, err := inj.graph.TopologicalSort()
	if err != nil {
		return err
	}

	created := 0
	for _, node := range sorted {
		b, ok := node.Value.(*Binding)
		if !ok || !b.Ready() || b.scope != Singleton {
			continue
		}

		root := rootFrame(ctx)
		_, err := b.provide(root)
		root.leave()
		if err != nil {
			return inj.fail("construct", b.key, err)
		}
		created++
	}

	inj.log.Info("singletons created eagerly", zap.String("id", inj.id), zap.Int("count", created))
	return nil
}

// ID returns the injector's unique identifier.
func (inj *Injector) ID() string {
	return inj.id
}

// Config returns the configuration the injector was built with.
func (inj *Injector) Config() Config {
	return inj.cfg
}

// GetInstance returns the instance for k. The binding's recipe is assembled
// and compiled on first use; the binding's scope decides whether a new
// instance is built. ctx carries custom-scope sessions and, when called from
// a constructor, the construction chain.
func (inj *Injector) GetInstance(ctx context.Context, k Key) (any, error) {
	v, err := inj.instance(ctx, k)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (inj *Injector) instance(ctx context.Context, k Key) (reflect.Value, error) {
	b, err := inj.Binding(k)
	if err != nil {
		return reflect.Value{}, err
	}

	root := rootFrame(ctx)
	defer root.leave()

	v, err := b.provide(root)
	if err != nil {
		return reflect.Value{}, inj.fail("get", k, err)
	}

	if v.Type() != k.Type {
		convert, err := compiler.Converter(v.Type(), k.Type)
		if err == nil {
			v, err = convert(v)
		}
		if err != nil {
			return reflect.Value{}, inj.fail("get", k, err)
		}
	}
	return v, nil
}

// InjectMembers injects the members of an existing instance and runs the
// listeners of its type. Replacements produced by listeners are discarded;
// use GetMembersInjector to receive them.
func (inj *Injector) InjectMembers(ctx context.Context, instance any) error {
	if instance == nil {
		return inj.fail("inject", Key{}, ErrNilInstance)
	}

	mi, err := inj.GetMembersInjector(reflect.TypeOf(instance))
	if err != nil {
		return err
	}
	_, err = mi.Inject(ctx, instance)
	return err
}

// GetProvider returns a deferred handle for k. The key is resolved but nothing
// is assembled or constructed until the handle is used.
func (inj *Injector) GetProvider(k Key) (*Handle, error) {
	b, err := inj.resolve(k)
	if err != nil {
		return nil, inj.fail("provider", k, err)
	}
	return &Handle{inj: inj, key: k.WithPoint(nil), binding: b}, nil
}

// GetMembersInjector returns the reusable member-injection routine for t.
func (inj *Injector) GetMembersInjector(t reflect.Type) (*MembersInjector, error) {
	mi, err := inj.membersInjector(t)
	if err != nil {
		return nil, inj.fail("members", NewKey(t), err)
	}
	return mi, nil
}

// Binding returns the binding serving k with its recipe assembled and compiled.
func (inj *Injector) Binding(k Key) (*Binding, error) {
	b, err := inj.resolve(k)
	if err == nil {
		err = inj.ready(b)
	}
	if err != nil {
		return nil, inj.fail("resolve", k, err)
	}
	return b, nil
}

// Compile returns the compiled unit of r. Units are cached per binding, so
// compiling a recipe again returns the same unit.
func (inj *Injector) Compile(r *Recipe) (*CompiledUnit, error) {
	if r == nil || r.binding == nil {
		return nil, fmt.Errorf("%w: recipe has no binding", ErrInvalidConfig)
	}

	b := r.binding
	if u, ok := inj.compiler.Lookup(b); ok {
		return u, nil
	}
	u, err := inj.compiler.Compile(b, b.name, r.plan)
	if err != nil {
		return nil, inj.fail("compile", r.Key, err)
	}
	return u, nil
}

// Dependencies returns the bindings k depends on, directly or through other
// bindings, assembling k first. Targets of handles appear once assembled.
func (inj *Injector) Dependencies(k Key) ([]*Binding, error) {
	b, err := inj.Binding(k)
	if err != nil {
		return nil, err
	}

	var deps []*Binding
	for _, nk := range inj.graph.GetTransitiveDependencies(b.key.node()) {
		if n := inj.graph.GetNode(nk); n != nil {
			if dep, ok := n.Value.(*Binding); ok {
				deps = append(deps, dep)
			}
		}
	}
	return deps, nil
}

// WriteDOT renders the dependency graph of every assembled binding in DOT.
func (inj *Injector) WriteDOT(w io.Writer) error {
	return graph.NewVisualizer(inj.graph).WriteDOT(w)
}

// WriteText renders the dependency graph of every assembled binding as text.
func (inj *Injector) WriteText(w io.Writer) error {
	return graph.NewVisualizer(inj.graph).WriteText(w)
}

// Stats is a snapshot of injector activity.
type Stats struct {
	StaticBindings   int
	JITBindings      int
	CreationBindings int
	MembersInjectors int
	GraphNodes       int
	CompiledUnits    int
	Splits           uint64
	JITHits          uint64
	JITMisses        uint64
}

// Stats returns a snapshot of the injector's caches.
func (inj *Injector) Stats() Stats {
	cs := inj.compiler.Stats()
	hits, misses := inj.jit.Stats()
	return Stats{
		StaticBindings:   len(inj.static),
		JITBindings:      inj.jit.Len(),
		CreationBindings: inj.creations.Len(),
		MembersInjectors: inj.injectors.Len(),
		GraphNodes:       inj.graph.Size(),
		CompiledUnits:    cs.Cached,
		Splits:           cs.Splits,
		JITHits:          hits,
		JITMisses:        misses,
	}
}

// fail roots err at the requested key. An error already rooted elsewhere keeps
// its chain and cause.
func (inj *Injector) fail(op string, k Key, err error) error {
	out := &Error{Op: op, Key: k, Err: err}
	if inner, ok := err.(*Error); ok {
		out.Chain, out.Err = inner.Chain, inner.Err
	}

	inj.metrics.failures.WithLabelValues(errorKind(err)).Inc()
	inj.log.Warn("request failed",
		zap.String("op", op),
		zap.Stringer("key", k),
		zap.String("kind", errorKind(err)),
		zap.Error(out.Err),
	)
	return out
}
