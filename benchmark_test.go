package kiln

import (
	"context"
	"testing"
)

// Benchmark service types
type BenchDep1 struct{ Value int }
type BenchDep2 struct{ Value int }
type BenchDep3 struct{ Value int }

type BenchServiceWith3Deps struct {
	Dep1 *BenchDep1
	Dep2 *BenchDep2
	Dep3 *BenchDep3
}

type BenchMembers struct {
	Dep1 *BenchDep1 `inject:""`
	Dep2 *BenchDep2 `inject:""`
	Dep3 *BenchDep3 `inject:""`
}

func NewBenchDep1() *BenchDep1 { return &BenchDep1{Value: 1} }
func NewBenchDep2() *BenchDep2 { return &BenchDep2{Value: 2} }
func NewBenchDep3() *BenchDep3 { return &BenchDep3{Value: 3} }

func NewBenchServiceWith3Deps(dep1 *BenchDep1, dep2 *BenchDep2, dep3 *BenchDep3) *BenchServiceWith3Deps {
	return &BenchServiceWith3Deps{Dep1: dep1, Dep2: dep2, Dep3: dep3}
}

// setupBenchInjector creates an injector with the service and its dependencies in scope s.
func setupBenchInjector(b *testing.B, s Scope, cfg Config) *Injector {
	b.Helper()

	inj, err := New(
		WithConfig(cfg),
		WithModules(
			Provide(NewBenchDep1, InScope(s)),
			Provide(NewBenchDep2, InScope(s)),
			Provide(NewBenchDep3, InScope(s)),
			Provide(NewBenchServiceWith3Deps, InScope(s)),
		),
	)
	if err != nil {
		b.Fatal(err)
	}
	return inj
}

func BenchmarkGetInstance(b *testing.B) {
	ctx := context.Background()
	k := KeyOf[*BenchServiceWith3Deps]()

	inlined := DefaultConfig()
	linked := DefaultConfig()
	linked.DisableInlining = true

	cases := []struct {
		name  string
		scope Scope
		cfg   Config
	}{
		{"Unscoped/Inlined", Unscoped, inlined},
		{"Unscoped/Linked", Unscoped, linked},
		{"Singleton", Singleton, inlined},
	}

	for _, bc := range cases {
		b.Run(bc.name, func(b *testing.B) {
			inj := setupBenchInjector(b, bc.scope, bc.cfg)
			if _, err := inj.GetInstance(ctx, k); err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := inj.GetInstance(ctx, k); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkGetInstance_Parallel(b *testing.B) {
	inj := setupBenchInjector(b, Singleton, DefaultConfig())
	k := KeyOf[*BenchServiceWith3Deps]()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			if _, err := inj.GetInstance(ctx, k); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkMembersInjector(b *testing.B) {
	inj := setupBenchInjector(b, Unscoped, DefaultConfig())
	ctx := context.Background()

	mi, err := inj.GetMembersInjector(KeyOf[*BenchMembers]().Type)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := mi.Inject(ctx, &BenchMembers{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFirstAssembly(b *testing.B) {
	ctx := context.Background()
	k := KeyOf[*BenchServiceWith3Deps]()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		inj := setupBenchInjector(b, Unscoped, DefaultConfig())
		if _, err := inj.GetInstance(ctx, k); err != nil {
			b.Fatal(err)
		}
	}
}
