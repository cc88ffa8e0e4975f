package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/StubbleTrack/internal/broker/messages"
	"github.com/BearBump/StubbleTrack/internal/integrations/notifier"
	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type settlerMock struct {
	mock.Mock
}

func (m *settlerMock) SettleCredit(ctx context.Context, loadID uuid.UUID) (models.CarbonCredit, error) {
	args := m.Called(ctx, loadID)
	return args.Get(0).(models.CarbonCredit), args.Error(1)
}

type recordingNotifier struct {
	got []notifier.Notification
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, n notifier.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

func payload(t *testing.T, m messages.LoadTransitioned) []byte {
	t.Helper()
	b, err := m.Marshal()
	require.NoError(t, err)
	return b
}

func TestHandle_RecycledSettlesThenNotifies(t *testing.T) {
	id := uuid.New()
	sm := &settlerMock{}
	sm.On("SettleCredit", mock.Anything, id).Return(models.CarbonCredit{LoadID: id, UserID: "farmer-1", OffsetKg: 7}, nil).Once()
	rn := &recordingNotifier{}

	err := New(sm, rn).Handle(context.Background(), []byte(id.String()), payload(t, messages.LoadTransitioned{
		EventID: 9, LoadID: id, Trigger: "recycle", ToStatus: "RECYCLED",
		AffectedUserIDs: []string{"farmer-1", "agent-1"},
	}))
	require.NoError(t, err)
	require.Len(t, rn.got, 2)
	sm.AssertExpectations(t)
}

func TestHandle_OtherTransitionsSkipSettlement(t *testing.T) {
	sm := &settlerMock{}
	rn := &recordingNotifier{}

	err := New(sm, rn).Handle(context.Background(), nil, payload(t, messages.LoadTransitioned{
		LoadID: uuid.New(), Trigger: "claim", ToStatus: "ASSIGNED", AffectedUserIDs: []string{"farmer-1"},
	}))
	require.NoError(t, err)
	require.Len(t, rn.got, 1)
	sm.AssertNotCalled(t, "SettleCredit", mock.Anything, mock.Anything)
}

func TestHandle_SettleErrorIsReturned(t *testing.T) {
	id := uuid.New()
	sm := &settlerMock{}
	sm.On("SettleCredit", mock.Anything, id).Return(models.CarbonCredit{}, errors.New("db down")).Once()
	rn := &recordingNotifier{}

	err := New(sm, rn).Handle(context.Background(), nil, payload(t, messages.LoadTransitioned{LoadID: id, ToStatus: "RECYCLED", AffectedUserIDs: []string{"u"}}))
	require.Error(t, err)
	require.Empty(t, rn.got)
}

func TestHandle_PermanentSettleErrorIsDropped(t *testing.T) {
	for name, settleErr := range map[string]error{
		"not found":     &models.NotFoundError{Entity: "load"},
		"invalid state": &models.InvalidStateError{},
		"validation":    &models.ValidationError{},
	} {
		t.Run(name, func(t *testing.T) {
			id := uuid.New()
			sm := &settlerMock{}
			sm.On("SettleCredit", mock.Anything, id).Return(models.CarbonCredit{}, settleErr).Once()
			rn := &recordingNotifier{}

			err := New(sm, rn).Handle(context.Background(), []byte(id.String()), payload(t, messages.LoadTransitioned{
				EventID: 3, LoadID: id, ToStatus: "RECYCLED", AffectedUserIDs: []string{"farmer-1"},
			}))
			require.NoError(t, err)
			require.Empty(t, rn.got)
			sm.AssertExpectations(t)
		})
	}
}

func TestHandle_NotifyErrorIsReturned(t *testing.T) {
	rn := &recordingNotifier{err: errors.New("webhook 502")}
	err := New(nil, rn).Handle(context.Background(), nil, payload(t, messages.LoadTransitioned{LoadID: uuid.New(), AffectedUserIDs: []string{"u"}}))
	require.ErrorContains(t, err, "notify user u")
}

func TestHandle_MalformedIsDropped(t *testing.T) {
	rn := &recordingNotifier{}
	require.NoError(t, New(nil, rn).Handle(context.Background(), []byte("k"), []byte("{not json")))
	require.Empty(t, rn.got)
}
