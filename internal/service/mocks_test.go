package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/studychat/studychat-server/internal/model"
)

// MockRoomStore mocks the RoomStore interface
type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) Create(ctx context.Context, room model.Room, members []model.Membership) error {
	args := m.Called(ctx, room, members)
	return args.Error(0)
}

func (m *MockRoomStore) GetRoomsForUser(ctx context.Context, userID uuid.UUID) ([]model.RoomInfo, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]model.RoomInfo), args.Error(1)
}

func (m *MockRoomStore) RoomIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRoomStore) FilterUnexpired(ctx context.Context, roomIDs []uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, roomIDs)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRoomStore) MemberKeysForRooms(ctx context.Context, roomIDs []uuid.UUID) ([]model.MemberKey, error) {
	args := m.Called(ctx, roomIDs)
	return args.Get(0).([]model.MemberKey), args.Error(1)
}

func (m *MockRoomStore) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRoomStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

// MockMessageStore mocks the MessageStore interface
type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Insert(ctx context.Context, msg model.Message) (model.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(model.Message), args.Error(1)
}

func (m *MockMessageStore) ListByRoom(ctx context.Context, roomID uuid.UUID, afterID int64, limit int) ([]model.Message, error) {
	args := m.Called(ctx, roomID, afterID, limit)
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MockMessageStore) ListAfterForRooms(ctx context.Context, roomIDs []uuid.UUID, afterID int64, limit int) ([]model.Message, error) {
	args := m.Called(ctx, roomIDs, afterID, limit)
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MockMessageStore) MaxIDForRooms(ctx context.Context, roomIDs []uuid.UUID) (int64, error) {
	args := m.Called(ctx, roomIDs)
	return args.Get(0).(int64), args.Error(1)
}

// MockPublicKeyStore mocks the PublicKeyStore interface
type MockPublicKeyStore struct {
	mock.Mock
}

func (m *MockPublicKeyStore) Upsert(ctx context.Context, key model.PublicKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockPublicKeyStore) GetByUserID(ctx context.Context, userID uuid.UUID) (model.PublicKey, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.PublicKey), args.Error(1)
}

// MockUserStore mocks the UserStore interface
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *MockUserStore) Create(ctx context.Context, user model.User) (model.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *MockUserStore) Search(ctx context.Context, query string, excludeID uuid.UUID, limit int) ([]model.User, error) {
	args := m.Called(ctx, query, excludeID, limit)
	return args.Get(0).([]model.User), args.Error(1)
}

// MockGroupStore mocks the GroupStore interface
type MockGroupStore struct {
	mock.Mock
}

func (m *MockGroupStore) PendingInvitationCount(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockGroupStore) SessionStatuses(ctx context.Context, userID uuid.UUID) ([]model.SessionStatus, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]model.SessionStatus), args.Error(1)
}
