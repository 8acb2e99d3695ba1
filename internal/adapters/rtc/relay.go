package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStateDelete
)

// outTrack is a single forwarded copy of a source track on one subscriber.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is trackStateOk
}

func (ot *outTrack) markDelete() {
	ot.state.Store(int32(trackStateDelete))
}

func (ot *outTrack) deleted() bool {
	return trackState(ot.state.Load()) == trackStateDelete
}

// relay forwards RTP from one remote track to every subscriber endpoint.
type relay struct {
	src *webrtc.TrackRemote

	mu   sync.RWMutex
	outs map[*endpoint]*outTrack
	done chan struct{}
	once sync.Once
}

func newRelay(src *webrtc.TrackRemote) *relay {
	return &relay{
		src:  src,
		outs: make(map[*endpoint]*outTrack),
		done: make(chan struct{}),
	}
}

// subscribe attaches a local copy of the source track to sub.
func (r *relay) subscribe(sub *endpoint) error {
	local, err := webrtc.NewTrackLocalStaticRTP(r.src.Codec().RTPCodecCapability, r.src.ID(), r.src.StreamID())
	if err != nil {
		return err
	}
	if _, err := sub.pc.AddTrack(local); err != nil {
		return err
	}
	r.mu.Lock()
	r.outs[sub] = &outTrack{track: local}
	r.mu.Unlock()
	return nil
}

func (r *relay) stop() {
	r.once.Do(func() { close(r.done) })
}

// loop reads RTP packets from the source track and forwards them until the
// source dies or the relay is stopped.
func (r *relay) loop() {
	logger := log.With().
		Str("module", "rtc.relay").
		Str("track_id", r.src.ID()).
		Logger()

	for {
		select {
		case <-r.done:
			logger.Debug().Msg("relay stopped")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay source ended")
			return
		}
		r.forward(pkt, &logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[*endpoint]*outTrack, len(r.outs))
	for sub, ot := range r.outs {
		snapshot[sub] = ot
	}
	r.mu.RUnlock()

	var dirty []*endpoint
	for sub, ot := range snapshot {
		if ot.deleted() {
			dirty = append(dirty, sub)
			continue
		}
		if err := ot.track.WriteRTP(pkt); err != nil {
			logger.Debug().Err(err).Msg("relay write failed, dropping subscriber")
			ot.markDelete()
			dirty = append(dirty, sub)
		}
	}

	// Cleanup happens outside the read lock.
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, sub := range dirty {
			delete(r.outs, sub)
		}
		r.mu.Unlock()
	}
}
