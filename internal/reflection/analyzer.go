package reflection

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// In marks a parameter object: a struct whose exported fields are resolved one by one.
type In struct{}

var (
	inType  = reflect.TypeOf(In{})
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Analyzer performs reflection-based analysis of constructors.
// It caches analysis results for performance.
type Analyzer struct {
	mu    sync.RWMutex
	cache map[uintptr]*ConstructorInfo
}

// ConstructorInfo contains analyzed information about a constructor function.
type ConstructorInfo struct {
	Name           string
	Type           reflect.Type
	Value          reflect.Value
	Parameters     []ParameterInfo
	Result         reflect.Type
	IsParamObject  bool         // Single parameter embedding In
	ParamObject    reflect.Type // The parameter object type, possibly a pointer
	HasErrorReturn bool         // Returns error as last value
}

// ParameterInfo describes a constructor parameter or field in an In struct.
type ParameterInfo struct {
	Type      reflect.Type
	Name      string            // Field name for In structs
	Tag       reflect.StructTag // Field tag for In structs
	Index     int               // Parameter index or field index
	Optional  bool              // From optional:"true" tag
	Qualifier string            // From name:"key" tag
}

// TagInfo contains parsed struct tag information.
type TagInfo struct {
	Optional bool
	Name     string
	Ignore   bool
}

// New creates a new Analyzer.
func New() *Analyzer {
	return &Analyzer{
		cache: make(map[uintptr]*ConstructorInfo),
	}
}

// Analyze analyzes a constructor function and extracts dependency information.
// Constructors return T or (T, error).
func (a *Analyzer) Analyze(constructor any) (*ConstructorInfo, error) {
	if constructor == nil {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	val := reflect.ValueOf(constructor)
	if val.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %v", val.Type())
	}
	if val.IsNil() {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	// Closures from one literal may share a code pointer. The analysis is then
	// shared while the value is not.
	cacheKey := val.Pointer()

	a.mu.RLock()
	cached, ok := a.cache[cacheKey]
	a.mu.RUnlock()
	if ok && cached.Type == val.Type() {
		info := *cached
		info.Value = val
		return &info, nil
	}

	info := &ConstructorInfo{
		Name:  FuncName(val),
		Type:  val.Type(),
		Value: val,
	}

	if err := a.analyzeReturns(info); err != nil {
		return nil, err
	}
	if err := a.analyzeParameters(info); err != nil {
		return nil, fmt.Errorf("failed to analyze parameters of %s: %w", info.Name, err)
	}

	a.mu.Lock()
	a.cache[cacheKey] = info
	a.mu.Unlock()

	out := *info
	return &out, nil
}

// analyzeParameters analyzes function parameters or In struct fields.
func (a *Analyzer) analyzeParameters(info *ConstructorInfo) error {
	fnType := info.Type
	if fnType.IsVariadic() {
		return fmt.Errorf("variadic constructors are not supported")
	}

	// Check for In parameter object
	if fnType.NumIn() == 1 && HasEmbedded(fnType.In(0), inType) {
		info.IsParamObject = true
		info.ParamObject = fnType.In(0)
		return a.analyzeParamObject(info, fnType.In(0))
	}

	// Regular parameters
	info.Parameters = make([]ParameterInfo, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		info.Parameters[i] = ParameterInfo{
			Type:  fnType.In(i),
			Index: i,
		}
	}

	return nil
}

// analyzeParamObject analyzes an In struct's fields.
func (a *Analyzer) analyzeParamObject(info *ConstructorInfo, structType reflect.Type) error {
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}

	params := make([]ParameterInfo, 0, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)

		// Skip unexported fields and the embedded marker itself
		if !field.IsExported() || (field.Anonymous && field.Type == inType) {
			continue
		}

		tagInfo := ParseTag(field.Tag)
		if tagInfo.Ignore {
			continue
		}

		params = append(params, ParameterInfo{
			Type:      field.Type,
			Name:      field.Name,
			Tag:       field.Tag,
			Index:     i,
			Optional:  tagInfo.Optional,
			Qualifier: tagInfo.Name,
		})
	}

	info.Parameters = params
	return nil
}

// analyzeReturns analyzes function return values.
func (a *Analyzer) analyzeReturns(info *ConstructorInfo) error {
	fnType := info.Type

	switch {
	case fnType.NumOut() == 1 && fnType.Out(0) != errType:
	case fnType.NumOut() == 2 && fnType.Out(1) == errType:
		info.HasErrorReturn = true
	default:
		return fmt.Errorf("constructor %s must return T or (T, error), got %v", info.Name, fnType)
	}

	info.Result = fnType.Out(0)
	return nil
}

// ParseTag parses struct field tags for injection annotations.
func ParseTag(tag reflect.StructTag) TagInfo {
	info := TagInfo{}

	// Check for optional tag
	if val, ok := tag.Lookup("optional"); ok {
		info.Optional = val == "true"
	}

	// Check for name tag (qualified dependencies)
	if val, ok := tag.Lookup("name"); ok {
		info.Name = val
	}

	// Check for inject tag
	if val, ok := tag.Lookup("inject"); ok {
		switch val {
		case "-":
			info.Ignore = true
		case "optional":
			info.Optional = true
		}
	}

	return info
}

// FuncName returns the package-qualified name of a function without its import path.
func FuncName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return fn.Type().String()
	}

	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Clear clears the analysis cache.
func (a *Analyzer) Clear() {
	a.mu.Lock()
	a.cache = make(map[uintptr]*ConstructorInfo)
	a.mu.Unlock()
}

// CacheSize returns the number of cached analyses.
func (a *Analyzer) CacheSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

// HasEmbedded checks if a struct type, or a pointer to one, embeds the given type.
func HasEmbedded(t, embedded reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return false
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type == embedded {
			return true
		}
	}

	return false
}

// IsParamObject reports whether t embeds In.
func IsParamObject(t reflect.Type) bool {
	return HasEmbedded(t, inType)
}
