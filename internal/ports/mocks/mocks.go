// Package mocks provides hand-written go.uber.org/mock-style
// collaborators for internal/ports in place of a mockgen-generated file
// (no code generation step runs in this repository; the shape below
// matches what `mockgen` would emit). They are exercised by this
// package's own tests; internal/engine's tests use the hand-rolled
// fakes in engine_helpers_test.go instead.
package mocks

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/mypoolr/roscacore/internal/ports"
)

var (
	_ ports.PaymentGateway    = (*MockPaymentGateway)(nil)
	_ ports.NotificationSink  = (*MockNotificationSink)(nil)
	_ ports.Scheduler         = (*MockScheduler)(nil)
	_ ports.Clock             = (*MockClock)(nil)
	_ ports.FeatureFlags      = (*MockFeatureFlags)(nil)
	_ ports.Audit             = (*MockAudit)(nil)
)

// MockPaymentGateway is a mock of the PaymentGateway interface.
type MockPaymentGateway struct {
	ctrl     *gomock.Controller
	recorder *MockPaymentGatewayMockRecorder
}

type MockPaymentGatewayMockRecorder struct {
	mock *MockPaymentGateway
}

func NewMockPaymentGateway(ctrl *gomock.Controller) *MockPaymentGateway {
	m := &MockPaymentGateway{ctrl: ctrl}
	m.recorder = &MockPaymentGatewayMockRecorder{m}
	return m
}

func (m *MockPaymentGateway) EXPECT() *MockPaymentGatewayMockRecorder { return m.recorder }

func (m *MockPaymentGateway) Initiate(ctx context.Context, amountCents int64, currency, payerRef, reference string, metadata map[string]string) (string, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Initiate", ctx, amountCents, currency, payerRef, reference, metadata)
	paymentID, _ := ret[0].(string)
	err, _ := ret[1].(error)
	return paymentID, err
}

func (mr *MockPaymentGatewayMockRecorder) Initiate(ctx, amountCents, currency, payerRef, reference, metadata any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Initiate",
		reflect.TypeOf((*MockPaymentGateway)(nil).Initiate), ctx, amountCents, currency, payerRef, reference, metadata)
}

func (m *MockPaymentGateway) Query(ctx context.Context, paymentID string) (ports.PaymentStatus, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Query", ctx, paymentID)
	status, _ := ret[0].(ports.PaymentStatus)
	err, _ := ret[1].(error)
	return status, err
}

func (mr *MockPaymentGatewayMockRecorder) Query(ctx, paymentID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Query",
		reflect.TypeOf((*MockPaymentGateway)(nil).Query), ctx, paymentID)
}

// MockNotificationSink is a mock of the NotificationSink interface.
type MockNotificationSink struct {
	ctrl     *gomock.Controller
	recorder *MockNotificationSinkMockRecorder
}

type MockNotificationSinkMockRecorder struct {
	mock *MockNotificationSink
}

func NewMockNotificationSink(ctrl *gomock.Controller) *MockNotificationSink {
	m := &MockNotificationSink{ctrl: ctrl}
	m.recorder = &MockNotificationSinkMockRecorder{m}
	return m
}

func (m *MockNotificationSink) EXPECT() *MockNotificationSinkMockRecorder { return m.recorder }

func (m *MockNotificationSink) Emit(ctx context.Context, eventKind, recipientRef, templateKey string, variables map[string]string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Emit", ctx, eventKind, recipientRef, templateKey, variables)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockNotificationSinkMockRecorder) Emit(ctx, eventKind, recipientRef, templateKey, variables any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Emit",
		reflect.TypeOf((*MockNotificationSink)(nil).Emit), ctx, eventKind, recipientRef, templateKey, variables)
}

// MockScheduler is a mock of the Scheduler interface.
type MockScheduler struct {
	ctrl     *gomock.Controller
	recorder *MockSchedulerMockRecorder
}

type MockSchedulerMockRecorder struct {
	mock *MockScheduler
}

func NewMockScheduler(ctrl *gomock.Controller) *MockScheduler {
	m := &MockScheduler{ctrl: ctrl}
	m.recorder = &MockSchedulerMockRecorder{m}
	return m
}

func (m *MockScheduler) EXPECT() *MockSchedulerMockRecorder { return m.recorder }

func (m *MockScheduler) Arm(ctx context.Context, taskID string, fireAt time.Time, payload map[string]string) (string, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Arm", ctx, taskID, fireAt, payload)
	handle, _ := ret[0].(string)
	err, _ := ret[1].(error)
	return handle, err
}

func (mr *MockSchedulerMockRecorder) Arm(ctx, taskID, fireAt, payload any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Arm",
		reflect.TypeOf((*MockScheduler)(nil).Arm), ctx, taskID, fireAt, payload)
}

func (m *MockScheduler) Cancel(ctx context.Context, handle string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Cancel", ctx, handle)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockSchedulerMockRecorder) Cancel(ctx, handle any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Cancel",
		reflect.TypeOf((*MockScheduler)(nil).Cancel), ctx, handle)
}

// MockClock is a mock of the Clock interface.
type MockClock struct {
	ctrl     *gomock.Controller
	recorder *MockClockMockRecorder
}

type MockClockMockRecorder struct {
	mock *MockClock
}

func NewMockClock(ctrl *gomock.Controller) *MockClock {
	m := &MockClock{ctrl: ctrl}
	m.recorder = &MockClockMockRecorder{m}
	return m
}

func (m *MockClock) EXPECT() *MockClockMockRecorder { return m.recorder }

func (m *MockClock) Now() time.Time {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Now")
	t, _ := ret[0].(time.Time)
	return t
}

func (mr *MockClockMockRecorder) Now() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Now", reflect.TypeOf((*MockClock)(nil).Now))
}

// MockFeatureFlags is a mock of the FeatureFlags interface.
type MockFeatureFlags struct {
	ctrl     *gomock.Controller
	recorder *MockFeatureFlagsMockRecorder
}

type MockFeatureFlagsMockRecorder struct {
	mock *MockFeatureFlags
}

func NewMockFeatureFlags(ctrl *gomock.Controller) *MockFeatureFlags {
	m := &MockFeatureFlags{ctrl: ctrl}
	m.recorder = &MockFeatureFlagsMockRecorder{m}
	return m
}

func (m *MockFeatureFlags) EXPECT() *MockFeatureFlagsMockRecorder { return m.recorder }

func (m *MockFeatureFlags) IsEnabled(ctx context.Context, flag string, groupID string) bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "IsEnabled", ctx, flag, groupID)
	enabled, _ := ret[0].(bool)
	return enabled
}

func (mr *MockFeatureFlagsMockRecorder) IsEnabled(ctx, flag, groupID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "IsEnabled",
		reflect.TypeOf((*MockFeatureFlags)(nil).IsEnabled), ctx, flag, groupID)
}

// MockAudit is a mock of the Audit interface.
type MockAudit struct {
	ctrl     *gomock.Controller
	recorder *MockAuditMockRecorder
}

type MockAuditMockRecorder struct {
	mock *MockAudit
}

func NewMockAudit(ctrl *gomock.Controller) *MockAudit {
	m := &MockAudit{ctrl: ctrl}
	m.recorder = &MockAuditMockRecorder{m}
	return m
}

func (m *MockAudit) EXPECT() *MockAuditMockRecorder { return m.recorder }

func (m *MockAudit) Append(ctx context.Context, kind, severity string, fields map[string]any) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Append", ctx, kind, severity, fields)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockAuditMockRecorder) Append(ctx, kind, severity, fields any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Append",
		reflect.TypeOf((*MockAudit)(nil).Append), ctx, kind, severity, fields)
}
