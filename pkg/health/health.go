// Package health tracks the health of storage backends from the outcome of
// their operations and from periodic probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
)

// HealthState represents the health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates recent requests failed
	StateDegraded

	// StateReadOnly indicates writes fail while reads may still work
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state by name.
func (s HealthState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ComponentHealth tracks the health of one component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastCheck         time.Time   `json:"last_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before a component is degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before it is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// HealthCheckInterval is the interval of StartHealthChecks probes
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		HealthCheckInterval:  30 * time.Second,
	}
}

// Tracker tracks the health of multiple components
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// RegisterComponent registers a component as healthy. Registering twice is a no-op.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := time.Now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastCheck:       now,
		}
	}
}

// AddStateChangeCallback registers fn for every state change.
func (t *Tracker) AddStateChangeCallback(fn StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

// RecordSuccess records a successful request. Each success takes one error
// off the count; the component is healthy again once the count is zero.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastCheck = time.Now()
	if health.ConsecutiveErrors > 0 {
		health.ConsecutiveErrors--
		if health.ConsecutiveErrors == 0 {
			t.transition(health, StateHealthy)
		}
	}
	callbacks := t.changed(oldState, health.State)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(component, oldState, StateHealthy, nil)
	}
}

// RecordError records a failed request.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastCheck = time.Now()
	health.ConsecutiveErrors++
	if err != nil {
		health.LastErrorMessage = err.Error()
	}

	switch {
	case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		t.transition(health, StateUnavailable)
	case health.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			t.transition(health, StateReadOnly)
		} else {
			t.transition(health, StateDegraded)
		}
	}
	newState := health.State
	callbacks := t.changed(oldState, newState)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(component, oldState, newState, err)
	}
}

// transition must be called with the lock held.
func (t *Tracker) transition(health *ComponentHealth, state HealthState) {
	if health.State == state {
		return
	}
	health.State = state
	health.LastStateChange = time.Now()
	if state == StateHealthy {
		health.ConsecutiveErrors = 0
		health.LastErrorMessage = ""
	}
}

func (t *Tracker) changed(oldState, newState HealthState) []StateChangeCallback {
	if oldState == newState {
		return nil
	}
	return append([]StateChangeCallback(nil), t.callbacks...)
}

// isWriteError reports errors after which reads are still expected to work.
func isWriteError(err error) bool {
	return serrors.HasCode(err, serrors.ErrCodeAccessDenied)
}

// GetState returns the state of component. Unknown components are unavailable.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health of component.
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}
	c := *health
	return &c, nil
}

// GetAllComponents returns copies of all registered components.
func (t *Tracker) GetAllComponents() map[string]*ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(t.components))
	for name, health := range t.components {
		c := *health
		result[name] = &c
	}
	return result
}

// GetOverallHealth returns the worst state of all components.
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, health := range t.components {
		if health.State > overall {
			overall = health.State
		}
	}
	return overall
}

// CanRead returns true if the component can serve reads
func (t *Tracker) CanRead(component string) bool {
	return t.GetState(component) != StateUnavailable
}

// CanWrite returns true if the component can serve writes
func (t *Tracker) CanWrite(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded
}

// StartHealthChecks probes every component each HealthCheckInterval until
// ctx is done.
func (t *Tracker) StartHealthChecks(ctx context.Context, check func(ctx context.Context, component string) error) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckNow(ctx, check)
		}
	}
}

// CheckNow probes every component once.
func (t *Tracker) CheckNow(ctx context.Context, check func(ctx context.Context, component string) error) {
	t.mu.RLock()
	components := make([]string, 0, len(t.components))
	for name := range t.components {
		components = append(components, name)
	}
	t.mu.RUnlock()

	for _, component := range components {
		if err := check(ctx, component); err != nil {
			t.RecordError(component, err)
		} else {
			t.RecordSuccess(component)
		}
	}
}

// Handler reports all components as JSON. The status is 503 when any
// component is unavailable.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		overall := t.GetOverallHealth()
		body := struct {
			Status     HealthState                 `json:"status"`
			Components map[string]*ComponentHealth `json:"components"`
		}{overall, t.GetAllComponents()}

		w.Header().Set("Content-Type", "application/json")
		if overall == StateUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}

// OperationSink returns a MetricsCollector feeding storage operation
// outcomes of component into t. Caller errors such as absent objects or
// rejected arguments do not count against the backend.
func (t *Tracker) OperationSink(component string) types.MetricsCollector {
	return &operationSink{tracker: t, component: component}
}

type operationSink struct {
	tracker   *Tracker
	component string
}

func (s *operationSink) RecordOperation(_ string, _ time.Duration, _ int64, success bool) {
	if success {
		s.tracker.RecordSuccess(s.component)
	}
}

func (s *operationSink) RecordError(_ string, err error) {
	if serrors.IsNotFound(err) ||
		serrors.IsInvalidArgument(err) ||
		serrors.HasCode(err, serrors.ErrCodeOperationCanceled) {
		return
	}
	s.tracker.RecordError(s.component, err)
}

func (s *operationSink) RecordCacheHit(string, int64)        {}
func (s *operationSink) RecordCacheMiss(string, int64)       {}
func (s *operationSink) RecordMultipart(string, string, int) {}
