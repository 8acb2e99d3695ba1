package core

// Incoming message kinds. Every wire frame is a tagged JSON object with a
// "kind" field; kind-specific fields are decoded by the signal adapter.
const (
	KindJoinRoom          = "join-room"
	KindCheckRoom         = "check-room"
	KindListRoomsByPrefix = "list-rooms-by-prefix"
	KindRequestVideo      = "request-video"
	KindLeaveRoom         = "leave-room"
	KindCandidate         = "connectivity-candidate"
)

// Outgoing message kinds.
const (
	KindParticipantJoined    = "participant-joined"
	KindExistingParticipants = "existing-participants"
	KindParticipantLeft      = "participant-left"
	KindRoomCreated          = "room-created"
	KindRoomCheck            = "room-check"
	KindGroupRoomNames       = "group-room-names"
	KindVideoAnswer          = "video-answer"
	KindICECandidate         = "ice-candidate"
	KindError                = "error"
)

type ParticipantJoinedMsg struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	SlotID    string `json:"slotId"`
	Presenter bool   `json:"presenter"`
}

// ParticipantRef is one entry of an existing-participants snapshot.
type ParticipantRef struct {
	Name   string `json:"name"`
	SlotID string `json:"slotId"`
}

type ExistingParticipantsMsg struct {
	Kind      string           `json:"kind"`
	SlotID    string           `json:"slotId"`
	Presenter bool             `json:"presenter"`
	Data      []ParticipantRef `json:"data"`
}

type ParticipantLeftMsg struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type RoomCreatedMsg struct {
	Kind string `json:"kind"`
}

type RoomCheckMsg struct {
	Kind string   `json:"kind"`
	Data []string `json:"data"`
}

type GroupRoomNamesMsg struct {
	Kind string   `json:"kind"`
	Data []string `json:"data"`
}

type VideoAnswerMsg struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	SDPAnswer string `json:"sdpAnswer"`
}

type ICECandidateMsg struct {
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Candidate Candidate `json:"candidate"`
}

type ErrorMsg struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
