package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Logger is a test logger interface.
type Logger interface {
	Log(msg string)
	Messages() []string
}

// TestLogger records messages.
type TestLogger struct {
	mu       sync.Mutex
	messages []string
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (l *TestLogger) Log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *TestLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

// Database is a test database with a name.
type Database struct {
	Name string
}

func NewDatabase() *Database {
	return &Database{Name: "default"}
}

// NamedDatabase returns a constructor building a database called name.
func NamedDatabase(name string) func() *Database {
	return func() *Database {
		return &Database{Name: name}
	}
}

// Cache is a test cache backed by a map.
type Cache struct {
	mu   sync.Mutex
	data map[string]any
}

func NewCache() *Cache {
	return &Cache{data: make(map[string]any)}
}

func (c *Cache) Set(k string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[k] = v
}

func (c *Cache) Get(k string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[k]
	return v, ok
}

// Service depends on a logger and a database.
type Service struct {
	Logger   Logger
	Database *Database
}

func NewService(logger Logger, db *Database) *Service {
	logger.Log("service created")
	return &Service{Logger: logger, Database: db}
}

// ContextService records the context it was built with.
type ContextService struct {
	Ctx context.Context
}

func NewContextService(ctx context.Context) *ContextService {
	return &ContextService{Ctx: ctx}
}

// Counter counts constructor calls.
type Counter struct {
	calls atomic.Int64
}

func (c *Counter) Calls() int64 {
	return c.calls.Load()
}

// Counted is built by a counting constructor; ID is the call number.
type Counted struct {
	ID int64
}

// Constructor returns a constructor that counts its calls.
func (c *Counter) Constructor() func() *Counted {
	return func() *Counted {
		return &Counted{ID: c.calls.Add(1)}
	}
}

// Failing returns a constructor failing with err.
func Failing[T any](err error) func() (T, error) {
	return func() (T, error) {
		var zero T
		return zero, err
	}
}

// Panicking returns a constructor that panics with v.
func Panicking[T any](v any) func() T {
	return func() T {
		panic(fmt.Sprint(v))
	}
}
