/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Seednode/songroom/room"
)

type MockController struct {
	mock.Mock
}

func (m *MockController) Snapshot() room.Snapshot {
	args := m.Called()
	return args.Get(0).(room.Snapshot)
}

func (m *MockController) Subscribe() (<-chan struct{}, func()) {
	args := m.Called()
	return args.Get(0).(<-chan struct{}), args.Get(1).(func())
}

func (m *MockController) ToggleReady() error {
	return m.Called().Error(0)
}

func (m *MockController) MicReady() error {
	return m.Called().Error(0)
}

func (m *MockController) StartGame() error {
	return m.Called().Error(0)
}

func (m *MockController) SendTalk(text string) error {
	return m.Called(text).Error(0)
}

func (m *MockController) SubmitAnswer(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockController) ConfirmKeyword(keyword string) error {
	return m.Called(keyword).Error(0)
}

func (m *MockController) Reconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockController) Leave() error {
	return m.Called().Error(0)
}
