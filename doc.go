// Package kiln builds object graphs at runtime. Bindings tell it how a key, a
// type plus a set of qualifiers, is produced; rules derive the bindings nobody
// wrote down. Every binding's recipe is assembled once, compiled into a
// cached unit, and run through the binding's scope on each request.
//
// # Basic Usage
//
//	inj, err := kiln.New(kiln.WithModules(
//	    kiln.Provide(NewDatabase, kiln.InScope(kiln.Singleton)),
//	    kiln.Constructor(NewUserService),
//	))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	users, err := kiln.Get[*UserService](ctx, inj)
//
// # Keys and Qualifiers
//
// A Key is a reflect.Type with a canonical qualifier set. Named is the built-in
// qualifier; any comparable value implementing Qualifier works. Qualifiers are
// required by injection points through extractors (the name tag by default)
// and offered by types through marker types embedded in them.
//
// # Recipes
//
// Assembling a recipe picks an instantiator (a registered constructor, or
// zero-value allocation for struct pointers), then member injection, then
// listeners, then a scope. Member injection walks the embedding hierarchy of
// the produced struct from its innermost embedded level to the type itself:
//
//	type Base struct {
//	    Log *Logger `inject:""`
//	}
//
//	type Service struct {
//	    Base
//	    _  struct{} `inject:"Init"`
//	    DB *Database `inject:""`
//	}
//
//	func (s *Service) Init(cfg *Config) error { ... }
//
// A method marked on an embedded level but declared again further down runs
// once, as the overriding declaration.
//
// # Scopes
//
// Unscoped runs the recipe on every request. Singleton keeps one instance,
// computed once even under concurrent requests. A SimpleScope keeps one
// instance per session, and sessions travel in the context:
//
//	requests := kiln.NewSimpleScope("request")
//	ctx, session := requests.Enter(ctx)
//	defer session.Exit()
//
// # Cycles
//
// A recipe that needs itself fails with RecursiveRecipeCreationError. Object
// cycles are expressed with deferred handles: a dependency of type
// func() (T, error), func() T or *Handle is satisfied without building T.
// Calling it from within T's own construction fails with
// ProviderReentrantError; a handle obtained from GetProvider recognizes that
// construction through the context it is given.
//
// # Errors
//
// Every failure is an *Error naming the requested key and the dependency
// chain. Causes flattens the full cause tree; the Is helpers test for a kind
// anywhere in it.
package kiln
