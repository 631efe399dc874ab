package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/channel"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

// disconnectGrace is how long a Disconnected peer connection may take to
// recover before the call is reported as failed.
const disconnectGrace = 5 * time.Second

// Signaler is the part of the event channel used for peer negotiation.
type Signaler interface {
	Subscribe(kind pubsub.Kind, fn channel.Handler) func()
	Publish(ctx context.Context, kind pubsub.Kind, roomID string, payload interface{}) error
	JoinRoom(roomID string)
	LeaveRoom(roomID string)
}

// ICEProvider returns the ICE servers a media token holder may use.
type ICEProvider func(ctx context.Context, mediaToken string) ([]webrtc.ICEServer, error)

// NewPionLoader returns a LoadFunc that registers codecs and interceptors and
// yields an engine negotiating over sig.
func NewPionLoader(sig Signaler, ice ICEProvider) LoadFunc {
	return func(ctx context.Context) (Engine, error) {
		api, err := newAPI()
		if err != nil {
			return nil, err
		}
		return &PionEngine{api: api, sig: sig, ice: ice}, nil
	}
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}

	codecs := []struct {
		params webrtc.RTPCodecParameters
		kind   webrtc.RTPCodecType
	}{
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        111,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000},
			PayloadType:        98,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
			},
			PayloadType: 102,
		}, webrtc.RTPCodecTypeVideo},
	}
	for _, c := range codecs {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.params.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	i.Add(pli)
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// PionEngine negotiates one peer connection per call through media room
// events. The participant with the smaller id sends the offer.
type PionEngine struct {
	api *webrtc.API
	sig Signaler
	ice ICEProvider
}

// Join creates the peer connection and announces readiness in the room.
func (e *PionEngine) Join(ctx context.Context, req JoinRequest) (Call, error) {
	var servers []webrtc.ICEServer
	if e.ice != nil {
		s, err := e.ice(ctx, req.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ice servers: %w", err)
		}
		servers = s
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if req.Video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, k := range kinds {
		if _, err := pc.AddTransceiverFromKind(k, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, err
		}
	}

	call := &pionCall{
		pc:        pc,
		sig:       e.sig,
		req:       req,
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
		grace:     disconnectGrace,
		log:       pkglog.Component("media").With().Str(pkglog.FieldRoomID, req.RoomID).Logger(),
	}
	call.wire()

	e.sig.JoinRoom(req.RoomID)
	call.announce(ctx)
	return call, nil
}

type pionCall struct {
	pc  *webrtc.PeerConnection
	sig Signaler
	req JoinRequest
	log zerolog.Logger

	mu          sync.Mutex
	peerID      string
	offered     bool
	replied     bool
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	unsubscribe []func()

	connected chan struct{}
	connOnce  sync.Once
	failed    chan error
	closeOnce sync.Once
	closed    bool

	grace      time.Duration
	graceTimer *time.Timer
}

func (c *pionCall) Connected() <-chan struct{} { return c.connected }
func (c *pionCall) Failed() <-chan error       { return c.failed }

func (c *pionCall) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.graceTimer != nil {
			c.graceTimer.Stop()
			c.graceTimer = nil
		}
		unsub := c.unsubscribe
		c.unsubscribe = nil
		c.mu.Unlock()

		for _, fn := range unsub {
			fn()
		}
		c.sig.LeaveRoom(c.req.RoomID)
		err = c.pc.Close()
	})
	return err
}

func (c *pionCall) wire() {
	c.pc.OnConnectionStateChange(c.onStateChange)

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		c.publish(context.Background(), pubsub.KindMediaCandidate, pubsub.MediaSignalPayload{Candidate: string(data)})
	})

	c.unsubscribe = []func(){
		c.sig.Subscribe(pubsub.KindMediaReady, c.onSignal(c.handleReady)),
		c.sig.Subscribe(pubsub.KindMediaOffer, c.onSignal(c.handleOffer)),
		c.sig.Subscribe(pubsub.KindMediaAnswer, c.onSignal(c.handleAnswer)),
		c.sig.Subscribe(pubsub.KindMediaCandidate, c.onSignal(c.handleCandidate)),
	}
}

// onStateChange reports Failed at once. Disconnected is reported only if the
// connection does not come back within the grace period.
func (c *pionCall) onStateChange(state webrtc.PeerConnectionState) {
	c.log.Debug().Str("state", state.String()).Msg("peer connection state")
	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.stopGrace()
		c.connOnce.Do(func() { close(c.connected) })
	case webrtc.PeerConnectionStateDisconnected:
		c.mu.Lock()
		if c.graceTimer == nil && !c.closed {
			c.graceTimer = time.AfterFunc(c.grace, func() {
				c.fail(fmt.Errorf("peer connection %s for %s", state.String(), c.grace))
			})
		}
		c.mu.Unlock()
	case webrtc.PeerConnectionStateFailed:
		c.stopGrace()
		c.fail(fmt.Errorf("peer connection %s", state.String()))
	}
}

func (c *pionCall) stopGrace() {
	c.mu.Lock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()
}

func (c *pionCall) fail(err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.failed <- err:
	default:
	}
}

// onSignal filters events to this room from the other participant.
func (c *pionCall) onSignal(fn func(ctx context.Context, p pubsub.MediaSignalPayload) error) channel.Handler {
	return func(ctx context.Context, ev *pubsub.Event) {
		if ev.RoomID != c.req.RoomID {
			return
		}
		var p pubsub.MediaSignalPayload
		if err := ev.UnmarshalPayload(&p); err != nil || p.ParticipantID == c.req.ParticipantID {
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.peerID == "" {
			c.peerID = p.ParticipantID
		}
		c.mu.Unlock()

		if err := fn(ctx, p); err != nil {
			c.log.Warn().Err(err).Str(pkglog.FieldEventType, string(ev.Type)).Msg("media signal failed")
			select {
			case c.failed <- err:
			default:
			}
		}
	}
}

func (c *pionCall) announce(ctx context.Context) {
	c.publish(ctx, pubsub.KindMediaReady, pubsub.MediaSignalPayload{
		DisplayName: c.req.DisplayName,
		Token:       c.req.Token,
	})
}

func (c *pionCall) isOfferer(peerID string) bool {
	return c.req.ParticipantID < peerID
}

func (c *pionCall) handleReady(ctx context.Context, p pubsub.MediaSignalPayload) error {
	c.mu.Lock()
	if !c.isOfferer(p.ParticipantID) {
		// The offerer may have joined after our announcement; answer once.
		reply := !c.replied
		c.replied = true
		c.mu.Unlock()
		if reply {
			c.announce(ctx)
		}
		return nil
	}
	if c.offered {
		c.mu.Unlock()
		return nil
	}
	c.offered = true
	c.mu.Unlock()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	c.publish(ctx, pubsub.KindMediaOffer, pubsub.MediaSignalPayload{SDP: offer.SDP})
	return nil
}

func (c *pionCall) handleOffer(ctx context.Context, p pubsub.MediaSignalPayload) error {
	if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	c.publish(ctx, pubsub.KindMediaAnswer, pubsub.MediaSignalPayload{SDP: answer.SDP})
	return nil
}

func (c *pionCall) handleAnswer(_ context.Context, p pubsub.MediaSignalPayload) error {
	return c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP})
}

func (c *pionCall) handleCandidate(_ context.Context, p pubsub.MediaSignalPayload) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(p.Candidate), &cand); err != nil {
		return fmt.Errorf("invalid candidate: %w", err)
	}
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(cand)
}

func (c *pionCall) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	var errs []error
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *pionCall) publish(ctx context.Context, kind pubsub.Kind, p pubsub.MediaSignalPayload) {
	p.ParticipantID = c.req.ParticipantID
	if err := c.sig.Publish(ctx, kind, c.req.RoomID, p); err != nil {
		c.log.Debug().Err(err).Str(pkglog.FieldEventType, string(kind)).Msg("media signal not sent")
	}
}
