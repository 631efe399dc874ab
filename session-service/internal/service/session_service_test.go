package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/pkg/database"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/storage"
	"github.com/weiawesome/wes-io-consult/session-service/internal/archive"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
	"github.com/weiawesome/wes-io-consult/session-service/internal/repository"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type sent struct {
	kind    pubsub.Kind
	room    string
	payload json.RawMessage
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Notify(_ context.Context, kind pubsub.Kind, roomID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{kind: kind, room: roomID, payload: data})
	return nil
}

func (n *recordingNotifier) of(kind pubsub.Kind) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, s := range n.sent {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeTokens struct{}

func (fakeTokens) IssueMedia(participantID, roomID string) (string, error) {
	return participantID + "@" + roomID, nil
}

type fixture struct {
	svc      *sessionServiceImpl
	notifier *recordingNotifier
	clock    time.Time
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newFixture(t *testing.T, opts Options, archiver *archive.Archiver) *fixture {
	t.Helper()
	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, domain.Models()...))

	f := &fixture{notifier: &recordingNotifier{}, clock: t0}
	f.svc = newSessionService(Deps{
		Sessions: repository.NewGormSessionRepository(db),
		Messages: repository.NewGormMessageRepository(db),
		Accounts: repository.NewGormAccountRepository(db),
		Tokens:   fakeTokens{},
		Notifier: f.notifier,
		Archiver: archiver,
	}, opts)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func defaultOptions() Options {
	return Options{RequestTimeout: 2 * time.Minute, DefaultRate: 10, StartingBalance: 100}
}

func (f *fixture) online(t *testing.T, providerID string) {
	t.Helper()
	_, err := f.svc.SetAvailability(context.Background(), providerID, true)
	require.NoError(t, err)
}

func (f *fixture) request(t *testing.T, requesterID, providerID string, kind domain.SessionKind) *domain.SessionResponse {
	t.Helper()
	s, err := f.svc.CreateRequest(context.Background(), requesterID, "Chen", &domain.CreateRequestRequest{ProviderID: providerID, Kind: kind})
	require.NoError(t, err)
	return s
}

func (f *fixture) activeChat(t *testing.T) string {
	t.Helper()
	f.online(t, "p1")
	req := f.request(t, "c1", "p1", domain.KindChat)
	_, err := f.svc.AcceptRequest(context.Background(), "p1", req.ID)
	require.NoError(t, err)
	return req.ID
}

func TestCreateRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)

	_, err := f.svc.CreateRequest(ctx, "c1", "Chen", &domain.CreateRequestRequest{ProviderID: "nobody", Kind: domain.KindChat})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.SetAvailability(ctx, "p1", false)
	require.NoError(t, err)
	_, err = f.svc.CreateRequest(ctx, "c1", "Chen", &domain.CreateRequestRequest{ProviderID: "p1", Kind: domain.KindChat})
	assert.ErrorIs(t, err, ErrProviderOffline)

	_, err = f.svc.CreateRequest(ctx, "p1", "Self", &domain.CreateRequestRequest{ProviderID: "p1", Kind: domain.KindChat})
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.online(t, "p1")
	s := f.request(t, "c1", "p1", domain.KindCall)
	assert.Equal(t, domain.StatusWaiting, s.Status)
	assert.Equal(t, "AUDIO", s.MediaKind)
	assert.Equal(t, 10.0, s.RatePerMinute)

	incoming := f.notifier.of(pubsub.KindIncomingRequest)
	require.Len(t, incoming, 1)
	assert.Equal(t, pubsub.ParticipantRoom("p1"), incoming[0].room)
	var payload pubsub.IncomingRequestPayload
	require.NoError(t, json.Unmarshal(incoming[0].payload, &payload))
	assert.Equal(t, s.ID, payload.RequestID)
	assert.Equal(t, "c1", payload.RequesterID)

	_, err = f.svc.CreateRequest(ctx, "c1", "Chen", &domain.CreateRequestRequest{ProviderID: "p1", Kind: domain.KindChat})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateRequest_InsufficientBalance(t *testing.T) {
	opts := defaultOptions()
	opts.StartingBalance = 5
	f := newFixture(t, opts, nil)
	f.online(t, "p1")

	_, err := f.svc.CreateRequest(context.Background(), "c1", "Chen", &domain.CreateRequestRequest{ProviderID: "p1", Kind: domain.KindChat})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestAcceptRequest_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	f.online(t, "p1")
	req := f.request(t, "c1", "p1", domain.KindCall)

	_, err := f.svc.AcceptRequest(ctx, "p2", req.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.svc.AcceptRequest(ctx, "p1", req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Session.Status)
	assert.Equal(t, pubsub.MediaRoom(req.ID), res.MediaRoomID)

	_, err = f.svc.AcceptRequest(ctx, "p1", req.ID)
	assert.ErrorIs(t, err, ErrNotAvailable)

	_, err = f.svc.AcceptRequest(ctx, "p1", "unknown")
	assert.ErrorIs(t, err, ErrNotAvailable)

	accepted := f.notifier.of(pubsub.KindSessionAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, pubsub.ParticipantRoom("c1"), accepted[0].room)
	var payload pubsub.SessionAcceptedPayload
	require.NoError(t, json.Unmarshal(accepted[0].payload, &payload))
	assert.Equal(t, req.ID, payload.SessionID)
	assert.Equal(t, pubsub.MediaRoom(req.ID), payload.MediaRoomID)
}

func TestAcceptRequest_ProviderBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	f.online(t, "p1")
	first := f.request(t, "c1", "p1", domain.KindChat)
	second := f.request(t, "c2", "p1", domain.KindChat)

	_, err := f.svc.AcceptRequest(ctx, "p1", first.ID)
	require.NoError(t, err)

	_, err = f.svc.AcceptRequest(ctx, "p1", second.ID)
	assert.ErrorIs(t, err, ErrProviderBusy)

	parties, err := f.svc.GetParties(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, parties.Status)
}

func TestRejectAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	f.online(t, "p1")

	req := f.request(t, "c1", "p1", domain.KindChat)
	require.NoError(t, f.svc.RejectRequest(ctx, "p1", req.ID, "busy today"))
	assert.ErrorIs(t, f.svc.RejectRequest(ctx, "p1", req.ID, ""), ErrNotAvailable)

	closed := f.notifier.of(pubsub.KindRequestClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, pubsub.ParticipantRoom("c1"), closed[0].room)

	req = f.request(t, "c1", "p1", domain.KindChat)
	assert.ErrorIs(t, f.svc.CancelRequest(ctx, "c2", req.ID), ErrForbidden)
	require.NoError(t, f.svc.CancelRequest(ctx, "c1", req.ID))

	closed = f.notifier.of(pubsub.KindRequestClosed)
	require.Len(t, closed, 2)
	assert.Equal(t, pubsub.ParticipantRoom("p1"), closed[1].room)
	var payload pubsub.RequestClosedPayload
	require.NoError(t, json.Unmarshal(closed[1].payload, &payload))
	assert.Equal(t, pubsub.ReasonCancelled, payload.Reason)

	_, err := f.svc.AcceptRequest(ctx, "p1", req.ID)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestEndSession_TotalsAndIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	id := f.activeChat(t)

	_, err := f.svc.EndSession(ctx, "stranger", id)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.EndSession(ctx, "c1", "missing")
	assert.ErrorIs(t, err, ErrSessionGone)

	f.advance(90 * time.Second)
	res, err := f.svc.EndSession(ctx, "p1", id)
	require.NoError(t, err)
	assert.Equal(t, int64(90), res.TotalDuration)
	assert.InDelta(t, 15.0, res.TotalAmount, 1e-9)
	assert.Equal(t, domain.StatusEnded, res.Session.Status)

	f.advance(time.Minute)
	again, err := f.svc.EndSession(ctx, "c1", id)
	require.NoError(t, err)
	assert.Equal(t, res.TotalDuration, again.TotalDuration)
	assert.Equal(t, res.TotalAmount, again.TotalAmount)

	wallet, err := f.svc.GetWallet(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 85.0, wallet.Balance, 1e-9)

	ended := f.notifier.of(pubsub.KindSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, pubsub.SessionRoom(id), ended[0].room)
	var payload pubsub.SessionEndedPayload
	require.NoError(t, json.Unmarshal(ended[0].payload, &payload))
	assert.Equal(t, "p1", payload.EndedBy)
	assert.Equal(t, pubsub.EndReasonExplicit, payload.Reason)
	assert.Equal(t, int64(90), payload.TotalDuration)

	updates := f.notifier.of(pubsub.KindWalletUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, pubsub.ParticipantRoom("c1"), updates[0].room)

	active, err := f.svc.GetActiveSession(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestEndSession_WaitingIsConflict(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	f.online(t, "p1")
	req := f.request(t, "c1", "p1", domain.KindChat)

	_, err := f.svc.EndSession(context.Background(), "c1", req.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)

	none, err := f.svc.GetActiveSession(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, none)

	id := f.activeChat(t)
	for _, pid := range []string{"c1", "p1"} {
		s, err := f.svc.GetActiveSession(ctx, pid)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, id, s.ID)
		assert.True(t, t0.Equal(*s.StartedAt))
	}
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	id := f.activeChat(t)

	_, err := f.svc.SendMessage(ctx, "c1", id, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.SendMessage(ctx, "stranger", id, "hi")
	assert.ErrorIs(t, err, ErrForbidden)

	m1, err := f.svc.SendMessage(ctx, "c1", id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "requester", m1.SenderRole)
	f.advance(time.Second)
	m2, err := f.svc.SendMessage(ctx, "p1", id, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "provider", m2.SenderRole)

	msgs, err := f.svc.ListMessages(ctx, "p1", id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID)
	assert.Equal(t, m2.ID, msgs[1].ID)

	require.NoError(t, f.svc.MarkSeen(ctx, "p1", id, []string{m1.ID, m2.ID}))
	seen := f.notifier.of(pubsub.KindMessageSeen)
	require.Len(t, seen, 1)
	var payload pubsub.MessageSeenPayload
	require.NoError(t, json.Unmarshal(seen[0].payload, &payload))
	assert.Equal(t, []string{m1.ID}, payload.MessageIDs)
	assert.Equal(t, "p1", payload.ReaderID)

	// Nothing left to flag, so no second hint.
	require.NoError(t, f.svc.MarkSeen(ctx, "p1", id, []string{m1.ID}))
	assert.Len(t, f.notifier.of(pubsub.KindMessageSeen), 1)
	assert.Len(t, f.notifier.of(pubsub.KindNewMessage), 2)

	_, err = f.svc.EndSession(ctx, "c1", id)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, "c1", id, "late")
	assert.ErrorIs(t, err, ErrSessionGone)
}

func TestIssueMediaToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	f.online(t, "p1")

	chat := f.request(t, "c1", "p1", domain.KindChat)
	_, err := f.svc.IssueMediaToken(ctx, "c1", chat.ID)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, f.svc.CancelRequest(ctx, "c1", chat.ID))

	call := f.request(t, "c1", "p1", domain.KindCall)
	_, err = f.svc.AcceptRequest(ctx, "p1", call.ID)
	require.NoError(t, err)

	token, err := f.svc.IssueMediaToken(ctx, "c1", call.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1@"+pubsub.MediaRoom(call.ID), token)

	_, err = f.svc.IssueMediaToken(ctx, "stranger", call.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestExpireRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	f.online(t, "p1")
	stale := f.request(t, "c1", "p1", domain.KindChat)
	f.advance(90 * time.Second)
	fresh := f.request(t, "c2", "p1", domain.KindChat)

	f.advance(45 * time.Second)
	n, err := f.svc.ExpireRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	closed := f.notifier.of(pubsub.KindRequestClosed)
	require.Len(t, closed, 2)
	rooms := []string{closed[0].room, closed[1].room}
	assert.ElementsMatch(t, []string{pubsub.ParticipantRoom("p1"), pubsub.ParticipantRoom("c1")}, rooms)

	_, err = f.svc.AcceptRequest(ctx, "p1", stale.ID)
	assert.ErrorIs(t, err, ErrNotAvailable)
	_, err = f.svc.AcceptRequest(ctx, "p1", fresh.ID)
	assert.NoError(t, err)
}

func TestEnforceBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	id := f.activeChat(t)

	f.advance(5 * time.Minute)
	n, err := f.svc.EnforceBalances(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.advance(6 * time.Minute)
	n, err = f.svc.EnforceBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ended := f.notifier.of(pubsub.KindSessionEnded)
	require.Len(t, ended, 1)
	var payload pubsub.SessionEndedPayload
	require.NoError(t, json.Unmarshal(ended[0].payload, &payload))
	assert.Equal(t, id, payload.SessionID)
	assert.Equal(t, pubsub.EndReasonInsufficientBalance, payload.Reason)
	assert.Empty(t, payload.EndedBy)
	assert.InDelta(t, 100.0, payload.TotalAmount, 1e-9)

	wallet, err := f.svc.GetWallet(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, wallet.Balance, 1e-9)
}

func TestEnforceBalances_FreeSessionWithEmptyWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{RequestTimeout: 2 * time.Minute}, nil)
	id := f.activeChat(t)

	f.advance(time.Second)
	n, err := f.svc.EnforceBalances(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.advance(time.Hour)
	n, err = f.svc.EnforceBalances(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := f.svc.GetActiveSession(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, id, active.ID)
	assert.Empty(t, f.notifier.of(pubsub.KindSessionEnded))
}

func TestSetAvailability_NotifiesWaitingRequesters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)
	f.online(t, "p1")
	f.request(t, "c1", "p1", domain.KindChat)

	p, err := f.svc.SetAvailability(ctx, "p1", false)
	require.NoError(t, err)
	assert.False(t, p.Available)
	assert.Equal(t, 10.0, p.RatePerMinute)

	changes := f.notifier.of(pubsub.KindAvailabilityChanged)
	// One from going online, two from going offline.
	require.Len(t, changes, 3)
	assert.Equal(t, pubsub.ParticipantRoom("p1"), changes[1].room)
	assert.Equal(t, pubsub.ParticipantRoom("c1"), changes[2].room)
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultOptions(), nil)

	_, err := f.svc.GetProfile(ctx, "c1", "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateProfile(ctx, "c1", &domain.UpdateProfileRequest{
		DisplayName:  "Chen",
		BirthDetails: map[string]string{"date": "1990-01-01"},
	})
	require.NoError(t, err)

	_, err = f.svc.GetProfile(ctx, "p1", "c1")
	assert.ErrorIs(t, err, ErrForbidden)

	f.online(t, "p1")
	f.request(t, "c1", "p1", domain.KindChat)

	p, err := f.svc.GetProfile(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Chen", p.DisplayName)
	assert.Equal(t, "1990-01-01", p.BirthDetails["date"])
}

func TestTranscriptArchivedOnChatEnd(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	f := newFixture(t, defaultOptions(), archive.NewArchiver(store, "transcripts"))
	id := f.activeChat(t)

	_, err = f.svc.GetTranscript(ctx, "c1", id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.SendMessage(ctx, "c1", id, "hello")
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.svc.EndSession(ctx, "c1", id)
	require.NoError(t, err)

	tr, err := f.svc.GetTranscript(ctx, "p1", id)
	require.NoError(t, err)
	assert.Equal(t, id, tr.Session.ID)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "hello", tr.Messages[0].Content)

	_, err = f.svc.GetTranscript(ctx, "stranger", id)
	assert.ErrorIs(t, err, ErrForbidden)
}
