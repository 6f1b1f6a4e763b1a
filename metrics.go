package kiln

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters an Injector maintains.
type Metrics struct {
	bindings  *prometheus.CounterVec
	jit       *prometheus.CounterVec
	instances *prometheus.CounterVec
	failures  *prometheus.CounterVec
	recipes   prometheus.Counter
	units     prometheus.Counter
	splits    prometheus.Counter
}

func newMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		bindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bindings_created_total",
			Help:      "Bindings created, by kind.",
		}, []string{"kind"}),
		jit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jit_lookups_total",
			Help:      "Just-in-time binding lookups, by result.",
		}, []string{"result"}),
		instances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_constructed_total",
			Help:      "Instances constructed by running a compiled unit, by scope.",
		}, []string{"scope"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed requests, by error kind.",
		}, []string{"kind"}),
		recipes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipes_assembled_total",
			Help:      "Recipes assembled.",
		}),
		units: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_compiled_total",
			Help:      "Units compiled, sub-units included.",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_splits_total",
			Help:      "Plans split because they exceeded the unit budget.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.bindings = register(reg, m.bindings, &err)
	m.jit = register(reg, m.jit, &err)
	m.instances = register(reg, m.instances, &err)
	m.failures = register(reg, m.failures, &err)
	m.recipes = register(reg, m.recipes, &err)
	m.units = register(reg, m.units, &err)
	m.splits = register(reg, m.splits, &err)
	return m, err
}

// register adds c to reg. A collector registered earlier, for example by
// another injector sharing reg, is reused.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}

	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}
