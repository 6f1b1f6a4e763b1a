// Package http provides net/http integration for kiln.
//
// SessionMiddleware enters a SimpleScope session for every request, so
// request-scoped bindings get one instance per request. Handle resolves a
// controller within that request.
//
// Example usage:
//
//	requests := kiln.NewSimpleScope("request")
//	inj, _ := kiln.New(kiln.WithModules(
//	    kiln.Provide(NewUserController, kiln.InScope(requests)),
//	))
//
//	mux := http.NewServeMux()
//	mux.Handle("GET /users/{id}", kilnhttp.Handle(UserController.GetByID))
//	http.ListenAndServe(":8080", kilnhttp.SessionMiddleware(inj, requests)(mux))
package http

import (
	"context"
	"net/http"

	"github.com/junioryono/kiln"
	"go.uber.org/zap"
)

// Config holds the configuration for the session middleware.
type Config struct {
	// Logger receives failures. Defaults to a no-op logger.
	Logger *zap.Logger

	// ErrorHandler is called when a middleware hook fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	// Middlewares run after the session is entered, in the order added. They
	// can resolve request-scoped instances and prepare them.
	Middlewares []func(*kiln.Injector, *http.Request) error
}

// Option configures the session middleware.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithErrorHandler sets the error handler for hook failures.
func WithErrorHandler(h func(http.ResponseWriter, *http.Request, error)) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithMiddleware adds a hook that runs after the session is entered.
func WithMiddleware(mw func(*kiln.Injector, *http.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig() *Config {
	return &Config{
		Logger: zap.NewNop(),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
	}
}

type injectorKey struct{}

// FromContext returns the injector SessionMiddleware attached to ctx.
func FromContext(ctx context.Context) (*kiln.Injector, bool) {
	inj, ok := ctx.Value(injectorKey{}).(*kiln.Injector)
	return inj, ok
}

// SessionMiddleware enters a session of scope for each request and exits it
// when the request completes. The request context carries the session and
// the injector.
func SessionMiddleware(inj *kiln.Injector, scope *kiln.SimpleScope, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, session := scope.Enter(context.WithValue(r.Context(), injectorKey{}, inj))
			defer session.Exit()

			r = r.WithContext(ctx)

			for _, mw := range cfg.Middlewares {
				if err := mw(inj, r); err != nil {
					cfg.Logger.Warn("request middleware failed",
						zap.String("session", session.ID()),
						zap.Error(err),
					)
					cfg.ErrorHandler(w, r, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// Logger receives failures and recovered panics.
	Logger *zap.Logger

	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(http.ResponseWriter, *http.Request, any)

	// InjectorErrorHandler is called when the request carries no injector.
	InjectorErrorHandler func(http.ResponseWriter, *http.Request)

	// ResolutionErrorHandler is called when the controller cannot be built.
	ResolutionErrorHandler func(http.ResponseWriter, *http.Request, error)
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(log *zap.Logger) HandlerOption {
	return func(c *HandlerConfig) {
		c.Logger = log
	}
}

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics.
func WithPanicHandler(h func(http.ResponseWriter, *http.Request, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller failures.
func WithResolutionErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		Logger: zap.NewNop(),
		PanicHandler: func(w http.ResponseWriter, r *http.Request, v any) {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		InjectorErrorHandler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		ResolutionErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusInternalServerError
			if kiln.IsOutOfScope(err) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, http.StatusText(status), status)
		},
	}
}

// Handle wraps a controller method. The controller T is resolved from the
// injector attached by SessionMiddleware, within the request's context.
//
// The method signature should be: func(T, http.ResponseWriter, *http.Request)
//
// Example:
//
//	mux.Handle("POST /login", kilnhttp.Handle((*AuthController).Login))
func Handle[T any](method func(T, http.ResponseWriter, *http.Request), opts ...HandlerOption) http.HandlerFunc {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.Logger.Error("panic in handler", zap.Any("panic", v))
					cfg.PanicHandler(w, r, v)
				}
			}()
		}

		inj, ok := FromContext(r.Context())
		if !ok {
			cfg.Logger.Error("request carries no injector")
			cfg.InjectorErrorHandler(w, r)
			return
		}

		controller, err := kiln.Get[T](r.Context(), inj)
		if err != nil {
			cfg.Logger.Error("failed to resolve controller", zap.Error(err))
			cfg.ResolutionErrorHandler(w, r, err)
			return
		}

		method(controller, w, r)
	}
}
