package lifecycle_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ticketline/internal/lifecycle"
	"ticketline/internal/logger"
	"ticketline/internal/models"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) CreateTicket(ticket models.Ticket) (int64, error) {
	args := m.Called(ticket)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDBLayer) GetTicketByID(id int64) (*models.Ticket, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockDBLayer) SetPaymentState(id int64, state string) error {
	args := m.Called(id, state)
	return args.Error(0)
}

func (m *MockDBLayer) SetEntryState(id int64, state string) error {
	args := m.Called(id, state)
	return args.Error(0)
}

func (m *MockDBLayer) SetSlotHeld(id int64, held bool) error {
	args := m.Called(id, held)
	return args.Error(0)
}

func (m *MockDBLayer) ActiveEvent() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockDBLayer) ReserveBundleSlot(eventCode string) (bool, error) {
	args := m.Called(eventCode)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) ReleaseBundleSlot(eventCode string) error {
	args := m.Called(eventCode)
	return args.Error(0)
}

func (m *MockDBLayer) AddPromoAttempt(buyerID int64, eventCode string) error {
	args := m.Called(buyerID, eventCode)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) BuyerText(buyerID int64, text string) error {
	args := m.Called(buyerID, text)
	return args.Error(0)
}

func (m *MockNotifier) BuyerRepay(buyerID, rowID int64, text string) error {
	args := m.Called(buyerID, rowID, text)
	return args.Error(0)
}

func (m *MockNotifier) BuyerTicket(buyerID int64, png []byte, caption string) error {
	args := m.Called(buyerID, png, caption)
	return args.Error(0)
}

func (m *MockNotifier) AdminReview(ticket models.Ticket) error {
	args := m.Called(ticket)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishTicketEvent(eventType string, ticket models.Ticket) error {
	args := m.Called(eventType, ticket)
	return args.Error(0)
}

func (m *MockPublisher) PublishSlotFreed(eventCode string, rowID int64) error {
	args := m.Called(eventCode, rowID)
	return args.Error(0)
}

type MockExpiry struct {
	mock.Mock
}

func (m *MockExpiry) Schedule(rowID int64) error {
	args := m.Called(rowID)
	return args.Error(0)
}

func newTestEngine() (*lifecycle.Engine, *MockDBLayer, *MockNotifier, *MockPublisher, *MockExpiry) {
	mockDB := new(MockDBLayer)
	mockNotify := new(MockNotifier)
	mockEvents := new(MockPublisher)
	mockExpiry := new(MockExpiry)
	engine := lifecycle.NewEngine(mockDB, mockNotify, mockEvents, mockExpiry, &logger.Logger{})
	return engine, mockDB, mockNotify, mockEvents, mockExpiry
}

func TestCreateSingleTicket(t *testing.T) {
	engine, mockDB, _, mockEvents, mockExpiry := newTestEngine()

	mockDB.On("ActiveEvent").Return("SUMMER25", nil)
	mockDB.On("CreateTicket", mock.AnythingOfType("models.Ticket")).Return(int64(7), nil)
	mockExpiry.On("Schedule", int64(7)).Return(nil)
	mockEvents.On("PublishTicketEvent", "created", mock.AnythingOfType("models.Ticket")).Return(nil)

	rowID, status, err := engine.Create(100, "@alice", models.KindSingle)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.CreateOK, status)
	assert.Equal(t, int64(7), rowID)
	mockDB.AssertNotCalled(t, "ReserveBundleSlot", mock.Anything)
	mockExpiry.AssertExpectations(t)
	mockEvents.AssertExpectations(t)
}

func TestCreateWhenSalesClosed(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	mockDB.On("ActiveEvent").Return(models.EventCodeNone, nil)

	rowID, status, err := engine.Create(100, "@alice", models.KindSingle)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.CreateSalesClosed, status)
	assert.Equal(t, int64(0), rowID)
	mockDB.AssertNotCalled(t, "CreateTicket", mock.Anything)
}

func TestCreateBundleReservesSlot(t *testing.T) {
	engine, mockDB, _, mockEvents, mockExpiry := newTestEngine()

	mockDB.On("ActiveEvent").Return("SUMMER25", nil)
	mockDB.On("ReserveBundleSlot", "SUMMER25").Return(true, nil)
	mockDB.On("CreateTicket", mock.MatchedBy(func(tk models.Ticket) bool { return tk.SlotHeld })).Return(int64(8), nil)
	mockExpiry.On("Schedule", int64(8)).Return(nil)
	mockEvents.On("PublishTicketEvent", "created", mock.AnythingOfType("models.Ticket")).Return(nil)

	_, status, err := engine.Create(100, "@alice", models.KindBundle)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.CreateOK, status)
	mockDB.AssertExpectations(t)
	mockExpiry.AssertExpectations(t)
}

func TestCreateBundleSoldOut(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	mockDB.On("ActiveEvent").Return("SUMMER25", nil)
	mockDB.On("ReserveBundleSlot", "SUMMER25").Return(false, nil)
	mockDB.On("AddPromoAttempt", int64(100), "SUMMER25").Return(nil)

	rowID, status, err := engine.Create(100, "@alice", models.KindBundle)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.CreateSoldOut, status)
	assert.Equal(t, int64(0), rowID)
	mockDB.AssertNotCalled(t, "CreateTicket", mock.Anything)
	mockDB.AssertCalled(t, "AddPromoAttempt", int64(100), "SUMMER25")
}

func TestCreateBundleReleasesSlotOnInsertFailure(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	mockDB.On("ActiveEvent").Return("SUMMER25", nil)
	mockDB.On("ReserveBundleSlot", "SUMMER25").Return(true, nil)
	mockDB.On("CreateTicket", mock.AnythingOfType("models.Ticket")).Return(int64(0), errors.New("insert failed"))
	mockDB.On("ReleaseBundleSlot", "SUMMER25").Return(nil)

	_, _, err := engine.Create(100, "@alice", models.KindBundle)

	assert.Error(t, err)
	mockDB.AssertCalled(t, "ReleaseBundleSlot", "SUMMER25")
}

func TestClaimPayment(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, mockExpiry := newTestEngine()

	ticket := &models.Ticket{ID: 7, BuyerID: 100, Kind: models.KindSingle, PaymentState: models.PaymentUnpaid}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentPendingReview).Return(nil)
	mockExpiry.On("Schedule", int64(7)).Return(nil)
	mockNotify.On("AdminReview", mock.AnythingOfType("models.Ticket")).Return(nil)
	mockEvents.On("PublishTicketEvent", "claimed", mock.AnythingOfType("models.Ticket")).Return(nil)

	status, err := engine.ClaimPayment(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimOK, status)
	mockExpiry.AssertExpectations(t)
	mockNotify.AssertExpectations(t)
}

func TestClaimPaymentRepeatedPresses(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	pending := &models.Ticket{ID: 7, PaymentState: models.PaymentPendingReview}
	mockDB.On("GetTicketByID", int64(7)).Return(pending, nil)
	status, err := engine.ClaimPayment(7)
	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimUnderReview, status)

	paid := &models.Ticket{ID: 8, PaymentState: models.PaymentPaid}
	mockDB.On("GetTicketByID", int64(8)).Return(paid, nil)
	status, err = engine.ClaimPayment(8)
	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimAlreadyPaid, status)

	mockDB.On("GetTicketByID", int64(9)).Return(nil, sql.ErrNoRows)
	status, err = engine.ClaimPayment(9)
	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimNotFound, status)

	mockDB.AssertNotCalled(t, "SetPaymentState", mock.Anything, mock.Anything)
}

func TestClaimReclaimsSlotAfterLapse(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, mockExpiry := newTestEngine()

	// Bundle row reset by an expiry: unpaid and no longer holding a slot.
	ticket := &models.Ticket{ID: 7, BuyerID: 100, EventCode: "SUMMER25", Kind: models.KindBundle, PaymentState: models.PaymentUnpaid, SlotHeld: false}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("ReserveBundleSlot", "SUMMER25").Return(true, nil)
	mockDB.On("SetSlotHeld", int64(7), true).Return(nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentPendingReview).Return(nil)
	mockExpiry.On("Schedule", int64(7)).Return(nil)
	mockNotify.On("AdminReview", mock.AnythingOfType("models.Ticket")).Return(nil)
	mockEvents.On("PublishTicketEvent", "claimed", mock.AnythingOfType("models.Ticket")).Return(nil)

	status, err := engine.ClaimPayment(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimOK, status)
	mockDB.AssertExpectations(t)
}

func TestClaimSoldOutAfterLapse(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	// Another buyer took the slot while this row's reservation was lapsed.
	ticket := &models.Ticket{ID: 7, BuyerID: 100, EventCode: "SUMMER25", Kind: models.KindBundle, PaymentState: models.PaymentUnpaid, SlotHeld: false}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("ReserveBundleSlot", "SUMMER25").Return(false, nil)
	mockDB.On("AddPromoAttempt", int64(100), "SUMMER25").Return(nil)

	status, err := engine.ClaimPayment(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimSoldOut, status)
	mockDB.AssertNotCalled(t, "SetPaymentState", mock.Anything, mock.Anything)
	mockDB.AssertCalled(t, "AddPromoAttempt", int64(100), "SUMMER25")
}

func TestClaimBundleHoldingSlotSkipsReservation(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, mockExpiry := newTestEngine()

	ticket := &models.Ticket{ID: 7, BuyerID: 100, EventCode: "SUMMER25", Kind: models.KindBundle, PaymentState: models.PaymentUnpaid, SlotHeld: true}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentPendingReview).Return(nil)
	mockExpiry.On("Schedule", int64(7)).Return(nil)
	mockNotify.On("AdminReview", mock.AnythingOfType("models.Ticket")).Return(nil)
	mockEvents.On("PublishTicketEvent", "claimed", mock.AnythingOfType("models.Ticket")).Return(nil)

	status, err := engine.ClaimPayment(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimOK, status)
	mockDB.AssertNotCalled(t, "ReserveBundleSlot", mock.Anything)
}

func TestClaimAfterRejection(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, mockExpiry := newTestEngine()

	ticket := &models.Ticket{ID: 7, BuyerID: 100, PaymentState: models.PaymentRejected}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentPendingReview).Return(nil)
	mockExpiry.On("Schedule", int64(7)).Return(nil)
	mockNotify.On("AdminReview", mock.AnythingOfType("models.Ticket")).Return(nil)
	mockEvents.On("PublishTicketEvent", "claimed", mock.AnythingOfType("models.Ticket")).Return(nil)

	status, err := engine.ClaimPayment(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.ClaimOK, status)
}

func TestApproveIssuesTicket(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, _ := newTestEngine()

	ticket := &models.Ticket{ID: 7, BuyerID: 100, Kind: models.KindSingle, EventCode: "SUMMER25", PaymentState: models.PaymentPendingReview}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentPaid).Return(nil)
	mockNotify.On("BuyerTicket", int64(100), mock.Anything, mock.Anything).Return(nil)
	mockEvents.On("PublishTicketEvent", "approved", mock.AnythingOfType("models.Ticket")).Return(nil)

	status, err := engine.Approve(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.DecisionOK, status)
	mockNotify.AssertExpectations(t)
}

func TestApproveWrongState(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	ticket := &models.Ticket{ID: 7, PaymentState: models.PaymentUnpaid}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)

	status, err := engine.Approve(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.DecisionWrongState, status)
	mockDB.AssertNotCalled(t, "SetPaymentState", mock.Anything, mock.Anything)
}

func TestRejectRestartsTimer(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, mockExpiry := newTestEngine()

	ticket := &models.Ticket{ID: 7, BuyerID: 100, PaymentState: models.PaymentPendingReview}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentRejected).Return(nil)
	mockExpiry.On("Schedule", int64(7)).Return(nil)
	mockNotify.On("BuyerRepay", int64(100), int64(7), mock.Anything).Return(nil)
	mockEvents.On("PublishTicketEvent", "rejected", mock.AnythingOfType("models.Ticket")).Return(nil)

	status, err := engine.Reject(7)

	assert.NoError(t, err)
	assert.Equal(t, lifecycle.DecisionOK, status)
	mockExpiry.AssertExpectations(t)
	mockNotify.AssertExpectations(t)
}

func TestRedeemExactlyOnce(t *testing.T) {
	engine, mockDB, _, mockEvents, _ := newTestEngine()

	ticket := &models.Ticket{ID: 7, PaymentState: models.PaymentPaid, EntryState: models.EntryUnredeemed}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetEntryState", int64(7), models.EntryRedeemed).Return(nil)
	mockEvents.On("PublishTicketEvent", "redeemed", mock.AnythingOfType("models.Ticket")).Return(nil)

	outcome, got, err := engine.Redeem(7)
	assert.NoError(t, err)
	assert.Equal(t, lifecycle.RedeemActivated, outcome)
	assert.Equal(t, models.EntryRedeemed, got.EntryState)

	// The row is now redeemed; a second scan must report it without writing.
	outcome, _, err = engine.Redeem(7)
	assert.NoError(t, err)
	assert.Equal(t, lifecycle.RedeemAlreadyUsed, outcome)
	mockDB.AssertNumberOfCalls(t, "SetEntryState", 1)
}

func TestRedeemGates(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	unpaid := &models.Ticket{ID: 7, PaymentState: models.PaymentUnpaid}
	mockDB.On("GetTicketByID", int64(7)).Return(unpaid, nil)
	outcome, _, err := engine.Redeem(7)
	assert.NoError(t, err)
	assert.Equal(t, lifecycle.RedeemNotPaid, outcome)

	mockDB.On("GetTicketByID", int64(9)).Return(nil, sql.ErrNoRows)
	outcome, _, err = engine.Redeem(9)
	assert.NoError(t, err)
	assert.Equal(t, lifecycle.RedeemNotFound, outcome)

	mockDB.AssertNotCalled(t, "SetEntryState", mock.Anything, mock.Anything)
}

func TestStoreFailureIsNotNotFound(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	// A dead store is an error, never a not_found outcome.
	boom := errors.New("connection refused")
	mockDB.On("GetTicketByID", int64(7)).Return(nil, boom)

	claimStatus, err := engine.ClaimPayment(7)
	assert.ErrorIs(t, err, boom)
	assert.NotEqual(t, lifecycle.ClaimNotFound, claimStatus)

	decision, err := engine.Approve(7)
	assert.ErrorIs(t, err, boom)
	assert.NotEqual(t, lifecycle.DecisionNotFound, decision)

	decision, err = engine.Reject(7)
	assert.ErrorIs(t, err, boom)
	assert.NotEqual(t, lifecycle.DecisionNotFound, decision)

	outcome, _, err := engine.Redeem(7)
	assert.ErrorIs(t, err, boom)
	assert.NotEqual(t, lifecycle.RedeemNotFound, outcome)

	assert.ErrorIs(t, engine.HandleExpiry(7), boom)
}

func TestHandleExpiryStaleTimer(t *testing.T) {
	engine, mockDB, mockNotify, _, _ := newTestEngine()

	// The buyer paid before the timer fired; nothing may change.
	paid := &models.Ticket{ID: 7, PaymentState: models.PaymentPaid}
	mockDB.On("GetTicketByID", int64(7)).Return(paid, nil)

	err := engine.HandleExpiry(7)

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "SetPaymentState", mock.Anything, mock.Anything)
	mockNotify.AssertNotCalled(t, "BuyerText", mock.Anything, mock.Anything)
}

func TestHandleExpiryBundleFreesSlot(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, _ := newTestEngine()

	ticket := &models.Ticket{ID: 7, BuyerID: 100, EventCode: "SUMMER25", Kind: models.KindBundle, PaymentState: models.PaymentRejected, SlotHeld: true}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentUnpaid).Return(nil)
	mockDB.On("ReleaseBundleSlot", "SUMMER25").Return(nil)
	mockDB.On("SetSlotHeld", int64(7), false).Return(nil)
	mockNotify.On("BuyerText", int64(100), mock.Anything).Return(nil)
	mockEvents.On("PublishSlotFreed", "SUMMER25", int64(7)).Return(nil)
	mockEvents.On("PublishTicketEvent", "expired", mock.AnythingOfType("models.Ticket")).Return(nil)

	err := engine.HandleExpiry(7)

	assert.NoError(t, err)
	mockDB.AssertExpectations(t)
	mockEvents.AssertCalled(t, "PublishSlotFreed", "SUMMER25", int64(7))
}

func TestHandleExpirySlotlessBundleKeepsCounter(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, _ := newTestEngine()

	// This row's slot was already freed by an earlier expiry; a second
	// lapse must not decrement the counter someone else now relies on.
	ticket := &models.Ticket{ID: 7, BuyerID: 100, EventCode: "SUMMER25", Kind: models.KindBundle, PaymentState: models.PaymentUnpaid, SlotHeld: false}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockNotify.On("BuyerText", int64(100), mock.Anything).Return(nil)
	mockEvents.On("PublishTicketEvent", "expired", mock.AnythingOfType("models.Ticket")).Return(nil)

	err := engine.HandleExpiry(7)

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "ReleaseBundleSlot", mock.Anything)
	mockEvents.AssertNotCalled(t, "PublishSlotFreed", mock.Anything, mock.Anything)
}

func TestHandleExpiryUnpaidSingle(t *testing.T) {
	engine, mockDB, mockNotify, mockEvents, _ := newTestEngine()

	ticket := &models.Ticket{ID: 7, BuyerID: 100, EventCode: "SUMMER25", Kind: models.KindSingle, PaymentState: models.PaymentUnpaid}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockNotify.On("BuyerText", int64(100), mock.Anything).Return(nil)
	mockEvents.On("PublishTicketEvent", "expired", mock.AnythingOfType("models.Ticket")).Return(nil)

	err := engine.HandleExpiry(7)

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "ReleaseBundleSlot", mock.Anything)
	mockDB.AssertNotCalled(t, "SetPaymentState", mock.Anything, mock.Anything)
}

func TestOverride(t *testing.T) {
	engine, mockDB, _, _, _ := newTestEngine()

	ticket := &models.Ticket{ID: 7, PaymentState: models.PaymentUnpaid}
	mockDB.On("GetTicketByID", int64(7)).Return(ticket, nil)
	mockDB.On("SetPaymentState", int64(7), models.PaymentPaid).Return(nil)

	err := engine.Override(7, models.PaymentPaid)
	assert.NoError(t, err)

	err = engine.Override(7, "teleported")
	assert.Error(t, err)
}
