package peerlink

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/avpeers/groupplay/internal/signaling"
)

// dataChannelLabel names the single reliable, ordered channel every
// link carries. Synchronization messages are small and rare, so the
// defaults (reliable, ordered) are exactly right.
const dataChannelLabel = "groupplay"

// PionTransport mints pion-backed links.
type PionTransport struct {
	log        *slog.Logger
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

func NewPionTransport(log *slog.Logger, iceServers []webrtc.ICEServer) *PionTransport {
	return NewPionTransportWithSettingEngine(log, iceServers, webrtc.SettingEngine{})
}

// NewPionTransportWithSettingEngine lets callers pre-configure the
// setting engine, e.g. to pin the transport to a virtual network in
// tests. The logger factory is always installed here.
func NewPionTransportWithSettingEngine(log *slog.Logger, iceServers []webrtc.ICEServer, se webrtc.SettingEngine) *PionTransport {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "webrtc")
	se.LoggerFactory = newSlogLoggerFactory(log)
	return &PionTransport{
		log:        log,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		iceServers: iceServers,
	}
}

func (t *PionTransport) NewLink(remoteID string, initiator bool, cb LinkCallbacks) (Link, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: t.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &pionLink{
		log: t.log.With("peer", remoteID),
		pc:  pc,
		cb:  cb,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if cb.OnCandidate == nil {
			return
		}
		if c == nil {
			cb.OnCandidate(nil)
			return
		}
		cand := signaling.CandidateFromPion(c.ToJSON())
		cb.OnCandidate(&cand)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.log.Debug("connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			l.fireClose()
		}
	})

	if initiator {
		// Creating the channel before the offer puts the SCTP m-line in
		// the initial SDP, so no renegotiation is needed.
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		l.wireDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != dataChannelLabel {
				l.log.Warn("ignoring unexpected data channel", "label", dc.Label())
				return
			}
			l.wireDataChannel(dc)
		})
	}

	return l, nil
}

type pionLink struct {
	log *slog.Logger
	pc  *webrtc.PeerConnection
	cb  LinkCallbacks

	dcMu sync.Mutex
	dc   *webrtc.DataChannel
	open bool

	closeOnce sync.Once
}

func (l *pionLink) wireDataChannel(dc *webrtc.DataChannel) {
	l.dcMu.Lock()
	l.dc = dc
	l.dcMu.Unlock()

	dc.OnOpen(func() {
		l.dcMu.Lock()
		l.open = true
		l.dcMu.Unlock()
		if l.cb.OnOpen != nil {
			l.cb.OnOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.cb.OnMessage != nil {
			l.cb.OnMessage(msg.Data)
		}
	})
	dc.OnClose(func() {
		l.fireClose()
	})
}

func (l *pionLink) fireClose() {
	l.closeOnce.Do(func() {
		if l.cb.OnClose != nil {
			l.cb.OnClose()
		}
	})
}

func (l *pionLink) CreateOffer() (signaling.SDP, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SDP{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return signaling.SDP{}, fmt.Errorf("set local description: %w", err)
	}
	return signaling.SDPFromPion(offer), nil
}

func (l *pionLink) AcceptOffer(sdp signaling.SDP) (signaling.SDP, error) {
	desc, err := sdp.ToPion()
	if err != nil {
		return signaling.SDP{}, err
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return signaling.SDP{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SDP{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return signaling.SDP{}, fmt.Errorf("set local description: %w", err)
	}
	return signaling.SDPFromPion(answer), nil
}

func (l *pionLink) AcceptAnswer(sdp signaling.SDP) error {
	desc, err := sdp.ToPion()
	if err != nil {
		return err
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (l *pionLink) AddCandidate(c *signaling.Candidate) error {
	if c == nil {
		// End-of-candidates: an empty candidate string is the standard
		// encoding.
		return l.pc.AddICECandidate(webrtc.ICECandidateInit{})
	}
	return l.pc.AddICECandidate(c.ToPion())
}

func (l *pionLink) Send(payload []byte) error {
	l.dcMu.Lock()
	dc, open := l.dc, l.open
	l.dcMu.Unlock()
	if dc == nil || !open {
		return fmt.Errorf("data channel not open")
	}
	return dc.Send(payload)
}

func (l *pionLink) Close() error {
	l.fireClose()
	return l.pc.Close()
}
