// Package mocks provides test doubles for the llm package.
package mocks

import (
	"context"

	llm "github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	mock "github.com/stretchr/testify/mock"
)

// MockProvider is a mock type for the Provider interface.
type MockProvider struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req
func (_m *MockProvider) Generate(ctx context.Context, req llm.ProviderRequest) (*llm.ProviderResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Generate")
	}

	var r0 *llm.ProviderResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, llm.ProviderRequest) (*llm.ProviderResponse, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, llm.ProviderRequest) *llm.ProviderResponse); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*llm.ProviderResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, llm.ProviderRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Name provides a mock function with no fields
func (_m *MockProvider) Name() string {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Name")
	}

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(string)
	}

	return r0
}

// NewMockProvider creates a new instance of MockProvider.
func NewMockProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockProvider {
	mock := &MockProvider{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
