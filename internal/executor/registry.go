package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/anqueue/anqueue/internal/glue"
	"github.com/anqueue/anqueue/internal/logger"
)

var (
	constructorsMu sync.RWMutex
	constructors   = map[string]Constructor{}
)

// Register makes a constructor available under execType. Executor packages
// call this from an init() function, mirroring how database/sql drivers
// register themselves.
func Register(execType string, ctor Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[execType] = ctor
}

// Registry discovers, validates, and indexes executors for one queue
// instance.
type Registry struct {
	mu                sync.RWMutex
	taskDir           string
	controller        bool
	log               *logger.Logger
	initialized       bool
	byType            map[string]Executor
	rawValidationByID map[string]int // raw schema length, for the "became empty" warning
}

// New creates a Registry bound to taskDir. controllerSide gates whether
// registration warnings are logged: §4.2 keeps worker stdout quiet.
func New(taskDir string, controllerSide bool, log *logger.Logger) *Registry {
	return &Registry{
		taskDir:           taskDir,
		controller:        controllerSide,
		log:               log,
		byType:            map[string]Executor{},
		rawValidationByID: map[string]int{},
	}
}

// Initialize scans the task directory once; a second call is a no-op.
func (r *Registry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}

	entries, err := os.ReadDir(r.taskDir)
	if err != nil {
		return fmt.Errorf("read task directory %s: %w", r.taskDir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !glue.AdmitExecutorFile(name) {
			continue
		}
		execType := glue.ExecutorType(name)
		if err := r.register(execType); err != nil {
			if r.controller {
				r.log.Warn("skipping executor",
					logger.Field{Key: "type", Value: execType},
					logger.Field{Key: "file", Value: name},
					logger.Field{Key: "reason", Value: err.Error()})
			}
			continue
		}
		if r.controller {
			r.log.Info("executor registered",
				logger.Field{Key: "type", Value: execType},
				logger.Field{Key: "file", Value: filepath.Join(r.taskDir, name)})
		}
	}

	r.initialized = true
	return nil
}

// register validates and sanitizes a single executor by type, per §4.2.
func (r *Registry) register(execType string) error {
	constructorsMu.RLock()
	ctor, ok := constructors[execType]
	constructorsMu.RUnlock()
	if !ok {
		return fmt.Errorf("no constructor registered for executor type %q", execType)
	}

	ex := ctor(execType)
	if ex == nil {
		return fmt.Errorf("constructor for %q returned nil", execType)
	}

	if ex.RetrySchema() == nil {
		return fmt.Errorf("executor %q: retrySchema() must return an array, got nil", execType)
	}
	rawValidation := ex.ValidationSchema()
	if rawValidation == nil {
		return fmt.Errorf("executor %q: validationSchema() must return an array, got nil", execType)
	}

	sanitized, removed := sanitizeSchema(rawValidation)
	if r.controller && removed > 0 {
		r.log.Warn("sanitized validation schema",
			logger.Field{Key: "type", Value: execType},
			logger.Field{Key: "removed", Value: removed})
	}
	if r.controller && len(sanitized) == 0 && len(rawValidation) > 0 {
		r.log.Warn("validation schema is empty after sanitization",
			logger.Field{Key: "type", Value: execType})
	}

	r.byType[execType] = &sanitizedExecutor{
		Executor: ex,
		schema:   sanitized,
		raw:      rawValidation,
	}
	r.rawValidationByID[execType] = len(rawValidation)
	return nil
}

// Get looks up an executor by type. The bool is false if no executor is
// registered for that type.
func (r *Registry) Get(execType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.byType[execType]
	return ex, ok
}

// Types returns every registered executor type.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}
