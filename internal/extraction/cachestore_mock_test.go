package extraction

// Hand-authored in the shape mockgen would generate for CacheStore
// (`mockgen -source=cache.go -destination=cachestore_mock_test.go`);
// kept alongside the tests that use it rather than committing a
// generated file the build can't regenerate in this environment.

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockCacheStore is a mock of the CacheStore interface.
type MockCacheStore struct {
	ctrl     *gomock.Controller
	recorder *MockCacheStoreMockRecorder
}

// MockCacheStoreMockRecorder is the mock recorder for MockCacheStore.
type MockCacheStoreMockRecorder struct {
	mock *MockCacheStore
}

// NewMockCacheStore returns a new mock bound to ctrl.
func NewMockCacheStore(ctrl *gomock.Controller) *MockCacheStore {
	mock := &MockCacheStore{ctrl: ctrl}
	mock.recorder = &MockCacheStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockCacheStore) EXPECT() *MockCacheStoreMockRecorder {
	return m.recorder
}

// Get mocks base method.
func (m *MockCacheStore) Get(ctx context.Context, fingerprint string) (CacheEntry, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Get", ctx, fingerprint)
	ret0, _ := ret[0].(CacheEntry)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// Get indicates an expected call of Get.
func (mr *MockCacheStoreMockRecorder) Get(ctx, fingerprint any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Get", reflect.TypeOf((*MockCacheStore)(nil).Get), ctx, fingerprint)
}

// Put mocks base method.
func (m *MockCacheStore) Put(ctx context.Context, entry CacheEntry) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Put", ctx, entry)
	ret0, _ := ret[0].(error)
	return ret0
}

// Put indicates an expected call of Put.
func (mr *MockCacheStoreMockRecorder) Put(ctx, entry any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Put", reflect.TypeOf((*MockCacheStore)(nil).Put), ctx, entry)
}

// Delete mocks base method.
func (m *MockCacheStore) Delete(ctx context.Context, fingerprint string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Delete", ctx, fingerprint)
	ret0, _ := ret[0].(error)
	return ret0
}

// Delete indicates an expected call of Delete.
func (mr *MockCacheStoreMockRecorder) Delete(ctx, fingerprint any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Delete", reflect.TypeOf((*MockCacheStore)(nil).Delete), ctx, fingerprint)
}

// ReapExpired mocks base method.
func (m *MockCacheStore) ReapExpired(ctx context.Context) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ReapExpired", ctx)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ReapExpired indicates an expected call of ReapExpired.
func (mr *MockCacheStoreMockRecorder) ReapExpired(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ReapExpired", reflect.TypeOf((*MockCacheStore)(nil).ReapExpired), ctx)
}
