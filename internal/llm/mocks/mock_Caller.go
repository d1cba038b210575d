package mocks

import (
	"context"

	llm "github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	mock "github.com/stretchr/testify/mock"
)

// MockCaller is a mock type for the Caller interface.
type MockCaller struct {
	mock.Mock
}

// Call provides a mock function with given fields: ctx, req
func (_m *MockCaller) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Call")
	}

	var r0 *llm.Response
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) (*llm.Response, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) *llm.Response); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*llm.Response)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, llm.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockCaller creates a new instance of MockCaller.
func NewMockCaller(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCaller {
	mock := &MockCaller{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
