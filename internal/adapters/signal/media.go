package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/GroupCall/internal/core"
)

func (ctl *Controller) handleRequestVideo(ctx context.Context, sid core.SessionID, c core.SignalConnection, data []byte) error {
	type requestPayload struct {
		Kind     string `json:"kind"`
		Sender   string `json:"sender"`
		SDPOffer string `json:"sdpOffer"`
	}
	var p requestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return fmt.Errorf("decode request-video: %w", err)
	}

	sess, ok := ctl.Registry.ByID(sid)
	if !ok {
		ctl.sendError(c, "not_joined")
		return nil
	}
	source, ok := ctl.Registry.ByName(p.Sender)
	if !ok {
		ctl.sendError(c, "unknown_sender")
		return nil
	}

	mctx, cancel := ctl.mediaContext(ctx)
	defer cancel()
	return sess.ReceiveVideoFrom(mctx, source, p.SDPOffer)
}

func (ctl *Controller) handleCandidate(ctx context.Context, sid core.SessionID, c core.SignalConnection, data []byte) error {
	type candidatePayload struct {
		Kind      string         `json:"kind"`
		Name      string         `json:"name"`
		Candidate core.Candidate `json:"candidate"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode connectivity-candidate: %w", err)
	}

	sess, ok := ctl.Registry.ByID(sid)
	if !ok {
		// Candidates can trail a leave; drop them quietly.
		return nil
	}

	mctx, cancel := ctl.mediaContext(ctx)
	defer cancel()
	return sess.AddCandidate(mctx, p.Candidate, p.Name)
}
