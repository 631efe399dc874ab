package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/storage"
	"github.com/weiawesome/wes-io-consult/session-service/internal/archive"
	"github.com/weiawesome/wes-io-consult/session-service/internal/audit"
	"github.com/weiawesome/wes-io-consult/session-service/internal/cache"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
	"github.com/weiawesome/wes-io-consult/session-service/internal/kafka"
	"github.com/weiawesome/wes-io-consult/session-service/internal/notify"
	"github.com/weiawesome/wes-io-consult/session-service/internal/repository"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("not a party of this session")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotAvailable        = errors.New("request is no longer available")
	ErrProviderBusy        = errors.New("provider already has an active session")
	ErrProviderOffline     = errors.New("provider is not accepting requests")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSessionGone         = errors.New("session no longer exists")
	ErrConflict            = errors.New("conflicting session state")
)

// MediaTokenIssuer signs media room tokens.
type MediaTokenIssuer interface {
	IssueMedia(participantID, roomID string) (string, error)
}

// Deps are the collaborators of the session service. Notifier, Events,
// Profiles and Archiver are optional.
type Deps struct {
	Sessions repository.SessionRepository
	Messages repository.MessageRepository
	Accounts repository.AccountRepository
	Tokens   MediaTokenIssuer
	Notifier notify.Notifier
	Events   kafka.SessionEventProducer
	Profiles cache.ProfileCache
	Archiver *archive.Archiver
}

// Options are the business rules.
type Options struct {
	RequestTimeout  time.Duration
	DefaultRate     float64
	StartingBalance float64
	ProfileTTL      time.Duration
}

// sessionServiceImpl implements SessionService interface.
type sessionServiceImpl struct {
	Deps
	opts Options
	now  func() time.Time
}

// NewSessionService creates a new session service.
func NewSessionService(deps Deps, opts Options) SessionService {
	return newSessionService(deps, opts)
}

func newSessionService(deps Deps, opts Options) *sessionServiceImpl {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	if opts.ProfileTTL <= 0 {
		opts.ProfileTTL = 10 * time.Minute
	}
	return &sessionServiceImpl{
		Deps: deps,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest opens a WAITING request to a provider.
func (s *sessionServiceImpl) CreateRequest(ctx context.Context, requesterID, requesterName string, req *domain.CreateRequestRequest) (*domain.SessionResponse, error) {
	l := log.Ctx(ctx)

	if req.ProviderID == requesterID {
		return nil, ErrInvalidInput
	}
	mediaKind := ""
	if req.Kind == domain.KindCall {
		mediaKind = req.MediaKind
		if mediaKind == "" {
			mediaKind = "AUDIO"
		}
	}

	provider, err := s.Accounts.GetProvider(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, repository.ErrProviderNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !provider.Available {
		return nil, ErrProviderOffline
	}

	wallet, err := s.Accounts.GetOrCreateWallet(ctx, requesterID, s.opts.StartingBalance)
	if err != nil {
		return nil, err
	}
	// At least one minute must be affordable.
	if wallet.Balance < provider.RatePerMinute {
		return nil, ErrInsufficientBalance
	}

	session := &domain.Session{
		Kind:          req.Kind,
		MediaKind:     mediaKind,
		RequesterID:   requesterID,
		RequesterName: requesterName,
		ProviderID:    provider.ID,
		RatePerMinute: provider.RatePerMinute,
		RequestedAt:   s.now(),
	}
	if err := s.Sessions.CreateRequest(ctx, session); err != nil {
		if errors.Is(err, repository.ErrOpenSessionExists) {
			return nil, ErrConflict
		}
		l.Error().Err(err).Msg("failed to create request")
		return nil, err
	}

	s.notify(ctx, pubsub.KindIncomingRequest, pubsub.ParticipantRoom(session.ProviderID), pubsub.IncomingRequestPayload{
		RequestID:     session.ID,
		SessionKind:   string(session.Kind),
		MediaKind:     session.MediaKind,
		RequesterID:   session.RequesterID,
		RequesterName: session.RequesterName,
		ProviderID:    session.ProviderID,
		RatePerMinute: session.RatePerMinute,
		RequestedAt:   session.RequestedAt,
	})
	audit.Log(ctx, audit.ActionRequest, requesterID, session.ID, "consultation requested")

	resp := session.ToResponse()
	return &resp, nil
}

// CancelRequest withdraws a WAITING request.
func (s *sessionServiceImpl) CancelRequest(ctx context.Context, requesterID, requestID string) error {
	session, err := s.getSession(ctx, requestID, ErrNotFound)
	if err != nil {
		return err
	}
	if session.RequesterID != requesterID {
		return ErrForbidden
	}
	if _, err := s.Sessions.CloseRequest(ctx, requestID, pubsub.ReasonCancelled, s.now()); err != nil {
		return mapCloseError(err)
	}

	s.notify(ctx, pubsub.KindRequestClosed, pubsub.ParticipantRoom(session.ProviderID), pubsub.RequestClosedPayload{
		RequestID: requestID,
		Reason:    pubsub.ReasonCancelled,
	})
	audit.Log(ctx, audit.ActionCancel, requesterID, requestID, "request cancelled")
	return nil
}

// AcceptRequest turns a WAITING request into an ACTIVE session. Of several
// concurrent accepts exactly one succeeds; the others get ErrNotAvailable.
func (s *sessionServiceImpl) AcceptRequest(ctx context.Context, providerID, requestID string) (*domain.AcceptResponse, error) {
	l := log.Ctx(ctx)

	session, err := s.getSession(ctx, requestID, ErrNotAvailable)
	if err != nil {
		return nil, err
	}
	if session.ProviderID != providerID {
		return nil, ErrForbidden
	}

	active, err := s.Sessions.Activate(ctx, requestID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionNotWaiting), errors.Is(err, repository.ErrSessionNotFound):
			return nil, ErrNotAvailable
		case errors.Is(err, repository.ErrProviderBusy):
			return nil, ErrProviderBusy
		}
		l.Error().Err(err).Str(log.FieldSessionID, requestID).Msg("failed to activate session")
		return nil, err
	}

	s.notify(ctx, pubsub.KindSessionAccepted, pubsub.ParticipantRoom(active.RequesterID), pubsub.SessionAcceptedPayload{
		SessionID:   active.ID,
		RequestID:   requestID,
		ProviderID:  active.ProviderID,
		RequesterID: active.RequesterID,
		MediaRoomID: active.MediaRoomID(),
	})
	s.produce(ctx, &kafka.SessionEvent{
		Type:          kafka.EventSessionStarted,
		SessionID:     active.ID,
		Kind:          string(active.Kind),
		RequesterID:   active.RequesterID,
		ProviderID:    active.ProviderID,
		RatePerMinute: active.RatePerMinute,
		Timestamp:     active.StartedAt.Unix(),
	})
	audit.Log(ctx, audit.ActionAccept, providerID, active.ID, "request accepted")

	return &domain.AcceptResponse{Session: active.ToResponse(), MediaRoomID: active.MediaRoomID()}, nil
}

// RejectRequest declines a WAITING request.
func (s *sessionServiceImpl) RejectRequest(ctx context.Context, providerID, requestID, reason string) error {
	session, err := s.getSession(ctx, requestID, ErrNotAvailable)
	if err != nil {
		return err
	}
	if session.ProviderID != providerID {
		return ErrForbidden
	}
	if _, err := s.Sessions.CloseRequest(ctx, requestID, pubsub.ReasonRejected, s.now()); err != nil {
		return mapCloseError(err)
	}

	s.notify(ctx, pubsub.KindRequestClosed, pubsub.ParticipantRoom(session.RequesterID), pubsub.RequestClosedPayload{
		RequestID: requestID,
		Reason:    pubsub.ReasonRejected,
	})
	audit.LogWithDetail(ctx, audit.ActionReject, providerID, requestID, reason, "request rejected")
	return nil
}

// EndSession ends an ACTIVE session. Ending an ENDED session returns its
// totals again.
func (s *sessionServiceImpl) EndSession(ctx context.Context, actorID, sessionID string) (*domain.EndResponse, error) {
	session, err := s.getSession(ctx, sessionID, ErrSessionGone)
	if err != nil {
		return nil, err
	}
	if !session.IsParty(actorID) {
		return nil, ErrForbidden
	}

	switch session.Status {
	case domain.StatusEnded:
		return endResponse(session), nil
	case domain.StatusActive:
		return s.finish(ctx, session, pubsub.EndReasonExplicit, actorID)
	case domain.StatusWaiting:
		return nil, ErrConflict
	default:
		return nil, ErrSessionGone
	}
}

func (s *sessionServiceImpl) finish(ctx context.Context, session *domain.Session, reason, endedBy string) (*domain.EndResponse, error) {
	l := log.Ctx(ctx)

	now := s.now()
	seconds, amount := session.Accrued(now)
	wallet, err := s.Accounts.GetOrCreateWallet(ctx, session.RequesterID, s.opts.StartingBalance)
	if err != nil {
		return nil, err
	}
	if amount > wallet.Balance {
		amount = max(wallet.Balance, 0)
	}

	ended, wallet, err := s.Sessions.Finish(ctx, session.ID, repository.Finish{
		EndedAt:       now,
		Reason:        reason,
		EndedBy:       endedBy,
		TotalAmount:   amount,
		TotalDuration: seconds,
	})
	if errors.Is(err, repository.ErrSessionNotActive) {
		// Lost against a concurrent end.
		current, gerr := s.getSession(ctx, session.ID, ErrSessionGone)
		if gerr != nil {
			return nil, gerr
		}
		if current.Status == domain.StatusEnded {
			return endResponse(current), nil
		}
		return nil, ErrSessionGone
	}
	if err != nil {
		l.Error().Err(err).Str(log.FieldSessionID, session.ID).Msg("failed to finish session")
		return nil, err
	}

	s.notify(ctx, pubsub.KindSessionEnded, pubsub.SessionRoom(ended.ID), pubsub.SessionEndedPayload{
		SessionID:     ended.ID,
		EndedBy:       endedBy,
		Reason:        reason,
		TotalAmount:   ended.TotalAmount,
		TotalDuration: ended.TotalDuration,
	})
	s.notify(ctx, pubsub.KindWalletUpdated, pubsub.ParticipantRoom(ended.RequesterID), pubsub.WalletUpdatedPayload{
		ParticipantID: ended.RequesterID,
		Balance:       wallet.Balance,
	})
	s.produce(ctx, &kafka.SessionEvent{
		Type:          kafka.EventSessionEnded,
		SessionID:     ended.ID,
		Kind:          string(ended.Kind),
		RequesterID:   ended.RequesterID,
		ProviderID:    ended.ProviderID,
		RatePerMinute: ended.RatePerMinute,
		Reason:        reason,
		TotalAmount:   ended.TotalAmount,
		TotalDuration: ended.TotalDuration,
		Timestamp:     now.Unix(),
	})
	if ended.Kind == domain.KindChat {
		s.archive(ctx, ended, now)
	}

	if reason == pubsub.EndReasonInsufficientBalance {
		audit.Log(ctx, audit.ActionForceEnd, ended.RequesterID, ended.ID, "session ended on insufficient balance")
	} else {
		audit.Log(ctx, audit.ActionEnd, endedBy, ended.ID, "session ended")
	}
	return endResponse(ended), nil
}

func endResponse(session *domain.Session) *domain.EndResponse {
	return &domain.EndResponse{
		Session:       session.ToResponse(),
		TotalAmount:   session.TotalAmount,
		TotalDuration: session.TotalDuration,
	}
}

// GetActiveSession returns the ACTIVE session of participantID, or nil.
func (s *sessionServiceImpl) GetActiveSession(ctx context.Context, participantID string) (*domain.SessionResponse, error) {
	session, err := s.Sessions.FindActiveByParticipant(ctx, participantID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp := session.ToResponse()
	return &resp, nil
}

// GetParties returns who takes part in a session or request.
func (s *sessionServiceImpl) GetParties(ctx context.Context, sessionID string) (*domain.Parties, error) {
	session, err := s.getSession(ctx, sessionID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	return &domain.Parties{
		SessionID:   session.ID,
		RequesterID: session.RequesterID,
		ProviderID:  session.ProviderID,
		Status:      session.Status,
	}, nil
}

// SendMessage persists a chat message and hints the session room.
func (s *sessionServiceImpl) SendMessage(ctx context.Context, senderID, sessionID, content string) (*domain.MessageResponse, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.activeSessionOf(ctx, senderID, sessionID)
	if err != nil {
		return nil, err
	}

	role := "requester"
	if senderID == session.ProviderID {
		role = "provider"
	}
	msg := &domain.Message{
		SessionID:  session.ID,
		SenderID:   senderID,
		SenderRole: role,
		Content:    content,
		CreatedAt:  s.now(),
	}
	if err := s.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	s.notify(ctx, pubsub.KindNewMessage, pubsub.SessionRoom(session.ID), pubsub.NewMessagePayload{
		SessionID: session.ID,
		MessageID: msg.ID,
		SenderID:  senderID,
	})
	resp := msg.ToResponse()
	return &resp, nil
}

// ListMessages returns a session transcript to one of its parties.
func (s *sessionServiceImpl) ListMessages(ctx context.Context, participantID, sessionID string) ([]domain.MessageResponse, error) {
	session, err := s.getSession(ctx, sessionID, ErrSessionGone)
	if err != nil {
		return nil, err
	}
	if !session.IsParty(participantID) {
		return nil, ErrForbidden
	}

	msgs, err := s.Messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MessageResponse, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ToResponse()
	}
	return out, nil
}

// MarkSeen flags the counterpart's messages as seen.
func (s *sessionServiceImpl) MarkSeen(ctx context.Context, readerID, sessionID string, messageIDs []string) error {
	session, err := s.getSession(ctx, sessionID, ErrSessionGone)
	if err != nil {
		return err
	}
	if !session.IsParty(readerID) {
		return ErrForbidden
	}

	changed, err := s.Messages.MarkSeen(ctx, sessionID, readerID, messageIDs)
	if err != nil {
		return err
	}
	if len(changed) > 0 {
		s.notify(ctx, pubsub.KindMessageSeen, pubsub.SessionRoom(sessionID), pubsub.MessageSeenPayload{
			SessionID:  sessionID,
			MessageIDs: changed,
			ReaderID:   readerID,
		})
	}
	return nil
}

// GetTranscript returns the archived transcript of an ended chat session.
func (s *sessionServiceImpl) GetTranscript(ctx context.Context, participantID, sessionID string) (*archive.Transcript, error) {
	session, err := s.getSession(ctx, sessionID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	if !session.IsParty(participantID) {
		return nil, ErrForbidden
	}
	if s.Archiver == nil {
		return nil, ErrNotFound
	}
	t, err := s.Archiver.Load(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

// SetAvailability toggles whether a provider accepts new requests.
func (s *sessionServiceImpl) SetAvailability(ctx context.Context, providerID string, available bool) (*domain.Provider, error) {
	provider, err := s.Accounts.SetAvailability(ctx, providerID, available, s.opts.DefaultRate)
	if err != nil {
		return nil, err
	}

	payload := pubsub.AvailabilityChangedPayload{ProviderID: providerID, Available: available}
	s.notify(ctx, pubsub.KindAvailabilityChanged, pubsub.ParticipantRoom(providerID), payload)
	waiting, err := s.Sessions.ListWaitingForProvider(ctx, providerID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldParticipantID, providerID).Msg("failed to list waiting requesters")
	}
	for _, w := range waiting {
		s.notify(ctx, pubsub.KindAvailabilityChanged, pubsub.ParticipantRoom(w.RequesterID), payload)
	}

	audit.LogWithDetail(ctx, audit.ActionAvailable, providerID, "", boolDetail(available), "availability changed")
	return provider, nil
}

func boolDetail(b bool) string {
	if b {
		return "available"
	}
	return "unavailable"
}

// GetProfile returns a profile to its owner or to anyone ever matched with
// the owner.
func (s *sessionServiceImpl) GetProfile(ctx context.Context, viewerID, participantID string) (*domain.Profile, error) {
	l := log.Ctx(ctx)

	if viewerID != participantID {
		shared, err := s.Sessions.HasSharedSession(ctx, viewerID, participantID)
		if err != nil {
			return nil, err
		}
		if !shared {
			return nil, ErrForbidden
		}
	}

	var key string
	if s.Profiles != nil {
		key = s.Profiles.BuildKey(participantID)
		p, err := s.Profiles.Get(ctx, key)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l.Warn().Err(err).Str(log.FieldParticipantID, participantID).Msg("profile cache read failed")
		}
	}

	p, err := s.Accounts.GetProfile(ctx, participantID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if s.Profiles != nil {
		if err := s.Profiles.Set(ctx, key, p, s.opts.ProfileTTL); err != nil {
			l.Warn().Err(err).Str(log.FieldParticipantID, participantID).Msg("profile cache write failed")
		}
	}
	return p, nil
}

// UpdateProfile replaces the caller's profile.
func (s *sessionServiceImpl) UpdateProfile(ctx context.Context, participantID string, req *domain.UpdateProfileRequest) (*domain.Profile, error) {
	p := &domain.Profile{
		ParticipantID: participantID,
		DisplayName:   req.DisplayName,
		AvatarURL:     req.AvatarURL,
		BirthDetails:  req.BirthDetails,
		Notes:         req.Notes,
	}
	if err := s.Accounts.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}
	if s.Profiles != nil {
		if err := s.Profiles.Delete(ctx, s.Profiles.BuildKey(participantID)); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldParticipantID, participantID).Msg("profile cache invalidation failed")
		}
	}
	return p, nil
}

// GetWallet returns the caller's wallet, opening it on first use.
func (s *sessionServiceImpl) GetWallet(ctx context.Context, participantID string) (*domain.Wallet, error) {
	return s.Accounts.GetOrCreateWallet(ctx, participantID, s.opts.StartingBalance)
}

// IssueMediaToken signs a token for the media room of an ACTIVE call.
func (s *sessionServiceImpl) IssueMediaToken(ctx context.Context, participantID, sessionID string) (string, error) {
	session, err := s.activeSessionOf(ctx, participantID, sessionID)
	if err != nil {
		return "", err
	}
	if session.Kind != domain.KindCall {
		return "", ErrConflict
	}
	return s.Tokens.IssueMedia(participantID, session.MediaRoomID())
}

// ExpireRequests closes WAITING requests older than the request timeout.
func (s *sessionServiceImpl) ExpireRequests(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.Sessions.ListWaitingSince(ctx, now.Add(-s.opts.RequestTimeout))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range stale {
		if _, err := s.Sessions.CloseRequest(ctx, req.ID, pubsub.ReasonExpired, now); err != nil {
			if errors.Is(err, repository.ErrSessionNotWaiting) {
				continue
			}
			return expired, err
		}
		expired++

		payload := pubsub.RequestClosedPayload{RequestID: req.ID, Reason: pubsub.ReasonExpired}
		s.notify(ctx, pubsub.KindRequestClosed, pubsub.ParticipantRoom(req.ProviderID), payload)
		s.notify(ctx, pubsub.KindRequestClosed, pubsub.ParticipantRoom(req.RequesterID), payload)
		audit.Log(ctx, audit.ActionExpire, req.RequesterID, req.ID, "request expired")
	}
	return expired, nil
}

// EnforceBalances force-ends sessions the requester can no longer pay for.
func (s *sessionServiceImpl) EnforceBalances(ctx context.Context) (int, error) {
	active, err := s.Sessions.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	ended := 0
	for i := range active {
		session := &active[i]
		if session.RatePerMinute <= 0 {
			continue
		}
		_, amount := session.Accrued(now)
		wallet, err := s.Accounts.GetOrCreateWallet(ctx, session.RequesterID, s.opts.StartingBalance)
		if err != nil {
			return ended, err
		}
		if amount < wallet.Balance {
			continue
		}
		if _, err := s.finish(ctx, session, pubsub.EndReasonInsufficientBalance, ""); err != nil {
			if errors.Is(err, ErrSessionGone) {
				continue
			}
			return ended, err
		}
		ended++
	}
	return ended, nil
}

func (s *sessionServiceImpl) getSession(ctx context.Context, id string, notFound error) (*domain.Session, error) {
	session, err := s.Sessions.GetByID(ctx, id)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, notFound
	}
	return session, err
}

// activeSessionOf loads sessionID and checks it is ACTIVE with
// participantID as a party.
func (s *sessionServiceImpl) activeSessionOf(ctx context.Context, participantID, sessionID string) (*domain.Session, error) {
	session, err := s.getSession(ctx, sessionID, ErrSessionGone)
	if err != nil {
		return nil, err
	}
	if !session.IsParty(participantID) {
		return nil, ErrForbidden
	}
	switch session.Status {
	case domain.StatusActive:
		return session, nil
	case domain.StatusWaiting:
		return nil, ErrConflict
	default:
		return nil, ErrSessionGone
	}
}

func mapCloseError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionNotWaiting), errors.Is(err, repository.ErrSessionNotFound):
		return ErrNotAvailable
	}
	return err
}

func (s *sessionServiceImpl) notify(ctx context.Context, kind pubsub.Kind, roomID string, payload interface{}) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, kind, roomID, payload); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEventType, string(kind)).Str(log.FieldRoomID, roomID).Msg("notification dropped")
	}
}

func (s *sessionServiceImpl) produce(ctx context.Context, ev *kafka.SessionEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.ProduceSessionEvent(ctx, ev); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldSessionID, ev.SessionID).Str(log.FieldEventType, ev.Type).Msg("failed to produce session event")
	}
}

func (s *sessionServiceImpl) archive(ctx context.Context, session *domain.Session, at time.Time) {
	if s.Archiver == nil {
		return
	}
	l := log.Ctx(ctx)
	msgs, err := s.Messages.ListBySession(ctx, session.ID)
	if err != nil {
		l.Warn().Err(err).Str(log.FieldSessionID, session.ID).Msg("failed to load transcript for archive")
		return
	}
	if err := s.Archiver.Archive(ctx, session, msgs, at); err != nil {
		l.Warn().Err(err).Str(log.FieldSessionID, session.ID).Msg("failed to archive transcript")
	}
}
