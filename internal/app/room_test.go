package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/GroupCall/internal/core"
)

func newTestRoom(t *testing.T) (*Room, *fakeContext) {
	t.Helper()
	mediaCtx := &fakeContext{}
	return NewRoom("r1", mediaCtx, nil), mediaCtx
}

func join(t *testing.T, r *Room, name, slot string, presenter bool) (*UserSession, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess, err := r.Join(mustParticipant(t, name, slot, presenter), conn)
	require.NoError(t, err)
	return sess, conn
}

func TestRoom_Join_NotifiesOthersAndSendsSnapshot(t *testing.T) {
	r, _ := newTestRoom(t)

	_, aliceConn := join(t, r, "alice", "s1", true)
	_, bobConn := join(t, r, "bob", "s2", false)

	// Alice hears about Bob.
	joined := aliceConn.lastOfKind(t, core.KindParticipantJoined)
	require.NotNil(t, joined)
	assert.Equal(t, "bob", joined["name"])
	assert.Equal(t, "s2", joined["slotId"])
	assert.Equal(t, false, joined["presenter"])

	// Bob's snapshot lists only the presenter Alice, tagged with his own slot.
	snap := bobConn.lastOfKind(t, core.KindExistingParticipants)
	require.NotNil(t, snap)
	assert.Equal(t, "s2", snap["slotId"])
	assert.Equal(t, false, snap["presenter"])
	data := snap["data"].([]any)
	require.Len(t, data, 1)
	entry := data[0].(map[string]any)
	assert.Equal(t, "alice", entry["name"])
	assert.Equal(t, "s1", entry["slotId"])

	// Bob must not be notified about his own arrival.
	assert.Nil(t, bobConn.lastOfKind(t, core.KindParticipantJoined))
}

func TestRoom_Join_SnapshotSkipsViewers(t *testing.T) {
	r, _ := newTestRoom(t)
	join(t, r, "alice", "s1", true)
	join(t, r, "viewer", "s2", false)
	_, lateConn := join(t, r, "late", "s3", false)

	snap := lateConn.lastOfKind(t, core.KindExistingParticipants)
	require.NotNil(t, snap)
	data := snap["data"].([]any)
	require.Len(t, data, 1, "only presenters belong in the snapshot")
	assert.Equal(t, "alice", data[0].(map[string]any)["name"])
}

func TestRoom_Join_DuplicateName(t *testing.T) {
	r, _ := newTestRoom(t)
	join(t, r, "alice", "s1", true)

	conn := &fakeConn{}
	sess, err := r.Join(mustParticipant(t, "alice", "s9", false), conn)
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.Nil(t, sess)
	assert.Equal(t, 1, r.ParticipantCount())
	assert.Empty(t, conn.frames, "rejected join must not receive a snapshot")
}

func TestRoom_Join_DeliveryFailureDoesNotAbortBroadcast(t *testing.T) {
	r, _ := newTestRoom(t)

	brokenConn := &fakeConn{failSend: true}
	_, err := r.Join(mustParticipant(t, "broken", "s1", true), brokenConn)
	require.NoError(t, err)
	_, okConn := join(t, r, "fine", "s2", true)

	_, lateConn := join(t, r, "late", "s3", false)

	assert.NotNil(t, okConn.lastOfKind(t, core.KindParticipantJoined))
	snap := lateConn.lastOfKind(t, core.KindExistingParticipants)
	require.NotNil(t, snap)
	assert.Len(t, snap["data"].([]any), 2, "unreachable presenter still appears in the snapshot")
}

func TestRoom_Leave_TearsDownLinksBeforeNotifying(t *testing.T) {
	r, mediaCtx := newTestRoom(t)
	ctx := context.Background()

	alice, _ := join(t, r, "alice", "s1", true)
	bob, bobConn := join(t, r, "bob", "s2", false)

	// Bob watches Alice.
	require.NoError(t, bob.ReceiveVideoFrom(ctx, alice, "offer-1"))
	require.Len(t, mediaCtx.endpoints, 2) // bob's incoming + alice's outgoing
	bobIncoming := mediaCtx.endpoints[0]

	r.Leave(ctx, alice)

	assert.Equal(t, 1, r.ParticipantCount())
	_, stillThere := r.Participant("alice")
	assert.False(t, stillThere)

	left := bobConn.lastOfKind(t, core.KindParticipantLeft)
	require.NotNil(t, left)
	assert.Equal(t, "alice", left["name"])

	// A room probe no longer lists the departed presenter.
	probe := &fakeConn{}
	require.NoError(t, r.SendRoomCheck(probe))
	assert.Empty(t, probe.lastOfKind(t, core.KindRoomCheck)["data"])

	require.Eventually(t, func() bool {
		return bobIncoming.releaseCount() == 1
	}, eventuallyTimeout, eventuallyTick, "bob's endpoint for alice must be released")
}

func TestRoom_Leave_UnknownSessionIsNoop(t *testing.T) {
	r, _ := newTestRoom(t)
	_, conn := join(t, r, "alice", "s1", true)

	ghost := NewUserSession(mustParticipant(t, "ghost", "s9", false), r.Name(), &fakeConn{}, &fakeContext{}, nil)
	r.Leave(context.Background(), ghost)

	assert.Equal(t, 1, r.ParticipantCount())
	assert.Nil(t, conn.lastOfKind(t, core.KindParticipantLeft))
}

func TestRoom_SendRoomCheck_ListsPresenters(t *testing.T) {
	r, _ := newTestRoom(t)
	join(t, r, "alice", "s1", true)
	join(t, r, "bob", "s2", false)
	join(t, r, "carol", "s3", true)

	probe := &fakeConn{}
	require.NoError(t, r.SendRoomCheck(probe))

	msg := probe.lastOfKind(t, core.KindRoomCheck)
	require.NotNil(t, msg)
	data := msg["data"].([]any)
	names := make([]string, 0, len(data))
	for _, v := range data {
		names = append(names, v.(string))
	}
	assert.ElementsMatch(t, []string{"alice", "carol"}, names)
}

func TestRoom_SendRoomCreated(t *testing.T) {
	r, _ := newTestRoom(t)
	probe := &fakeConn{}
	require.NoError(t, r.SendRoomCreated(probe))
	assert.Equal(t, []string{core.KindRoomCreated}, probe.kinds(t))
}

func TestRoom_Close_ReleasesContextOnce(t *testing.T) {
	r, mediaCtx := newTestRoom(t)
	ctx := context.Background()
	_, aliceConn := join(t, r, "alice", "s1", true)

	r.Close(ctx)
	r.Close(ctx)

	assert.Equal(t, 0, r.ParticipantCount())
	assert.False(t, aliceConn.IsOpen())
	require.Eventually(t, func() bool {
		return mediaCtx.releaseCount() == 1
	}, eventuallyTimeout, eventuallyTick, "media context must be released exactly once")
}
