package testutil

import (
	"context"
	"sync/atomic"

	"modelmux/provider"
)

// MockBackend implements provider.Backend for testing. Every method
// delegates to an overridable func field; NewMockBackend installs
// defaults that succeed immediately. Availability, Prepare and Generate
// calls are counted so tests can assert on selection and caching
// behavior under concurrency.
type MockBackend struct {
	// Configurable responses
	CapabilitiesFunc func() provider.Capabilities
	AvailabilityFunc func(ctx context.Context) provider.Availability
	PrepareFunc      func(ctx context.Context, onProgress provider.ProgressFunc) (*provider.Handle, error)
	GenerateFunc     func(ctx context.Context, h *provider.Handle, req provider.Request, onDelta func(string) error) ([]provider.ToolCall, error)
	ListModelsFunc   func(ctx context.Context) ([]provider.ModelInfo, error)

	// Call counters
	AvailabilityCalls atomic.Int32
	PrepareCalls      atomic.Int32
	GenerateCalls     atomic.Int32

	// State
	kind         provider.BackendKind
	currentModel string
}

// NewMockBackend creates a mock backend with default implementations:
// Available, capability-less, preparing an immediate handle and
// generating one "Mock response" delta.
func NewMockBackend(kind provider.BackendKind, modelName string) *MockBackend {
	mock := &MockBackend{
		kind:         kind,
		currentModel: modelName,
	}
	mock.CapabilitiesFunc = mock.defaultCapabilities
	mock.AvailabilityFunc = mock.defaultAvailability
	mock.PrepareFunc = mock.defaultPrepare
	mock.GenerateFunc = mock.defaultGenerate
	mock.ListModelsFunc = mock.defaultListModels
	return mock
}

func (m *MockBackend) defaultCapabilities() provider.Capabilities {
	return provider.Capabilities{}
}

func (m *MockBackend) defaultAvailability(ctx context.Context) provider.Availability {
	return provider.Available
}

func (m *MockBackend) defaultPrepare(ctx context.Context, onProgress provider.ProgressFunc) (*provider.Handle, error) {
	return &provider.Handle{
		Kind:         m.kind,
		Model:        m.currentModel,
		Availability: provider.Available,
	}, nil
}

func (m *MockBackend) defaultGenerate(ctx context.Context, h *provider.Handle, req provider.Request, onDelta func(string) error) ([]provider.ToolCall, error) {
	if err := onDelta("Mock response"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *MockBackend) defaultListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{
		{Name: "mock-model-1", Size: 1000, Backend: m.kind},
		{Name: "mock-model-2", Size: 2000, Backend: m.kind},
	}, nil
}

func (m *MockBackend) Kind() provider.BackendKind {
	return m.kind
}

func (m *MockBackend) Capabilities() provider.Capabilities {
	return m.CapabilitiesFunc()
}

func (m *MockBackend) Availability(ctx context.Context) provider.Availability {
	m.AvailabilityCalls.Add(1)
	return m.AvailabilityFunc(ctx)
}

func (m *MockBackend) Prepare(ctx context.Context, onProgress provider.ProgressFunc) (*provider.Handle, error) {
	m.PrepareCalls.Add(1)
	return m.PrepareFunc(ctx, onProgress)
}

func (m *MockBackend) Generate(ctx context.Context, h *provider.Handle, req provider.Request, onDelta func(string) error) ([]provider.ToolCall, error) {
	m.GenerateCalls.Add(1)
	return m.GenerateFunc(ctx, h, req, onDelta)
}

func (m *MockBackend) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockBackend) GetModel() string {
	return m.currentModel
}

func (m *MockBackend) SetModel(model string) {
	m.currentModel = model
}
