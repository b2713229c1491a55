// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/env"
)

// -- Device Mock --

// MockDevice mocks env.Device.
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) Reset(ctx context.Context) (env.Observation, error) {
	args := m.Called(ctx)
	return args.Get(0).(env.Observation), args.Error(1)
}

func (m *MockDevice) Step(ctx context.Context, input env.Input) (env.Observation, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(env.Observation), args.Error(1)
}

func (m *MockDevice) ScreenSize(ctx context.Context) (schemas.ScreenSize, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.ScreenSize), args.Error(1)
}

func (m *MockDevice) LogicalScreenSize(ctx context.Context) (schemas.ScreenSize, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.ScreenSize), args.Error(1)
}

func (m *MockDevice) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Collaborator Mocks --

// MockInferrer mocks env.ElementInferrer.
type MockInferrer struct {
	mock.Mock
}

func (m *MockInferrer) ElementsFromTree(tree any, screen schemas.ScreenSize) ([]schemas.UIElement, error) {
	args := m.Called(tree, screen)
	var elements []schemas.UIElement
	if v := args.Get(0); v != nil {
		elements = v.([]schemas.UIElement)
	}
	return elements, args.Error(1)
}

// MockActuator mocks env.Actuator.
type MockActuator struct {
	mock.Mock
}

func (m *MockActuator) Execute(ctx context.Context, action schemas.Action, elements []schemas.UIElement, screen schemas.ScreenSize, device env.Device) error {
	args := m.Called(ctx, action, elements, screen, device)
	return args.Error(0)
}

// MockMessenger mocks env.Messenger.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Display(ctx context.Context, message, header string) error {
	args := m.Called(ctx, message, header)
	return args.Error(0)
}
