package protocol

// Command is sent from a client to the daemon. Exactly one field set is
// meaningful per Type; the rest are zero. This mirrors the teacher's
// tag+payload Message wrapper, generalized to a closed command set since Go
// has no native sum types.
type CommandType string

const (
	CmdPlay             CommandType = "play"
	CmdPlayFile         CommandType = "play_file"
	CmdPlayFileAt       CommandType = "play_file_at"
	CmdPlayFilePausedAt CommandType = "play_file_paused_at"
	CmdStop             CommandType = "stop"
	CmdNext             CommandType = "next"
	CmdPrev             CommandType = "prev"
	CmdRandom           CommandType = "random"
	CmdTogglePause      CommandType = "toggle_pause"
	CmdVolume           CommandType = "volume"
	CmdSeekRelative     CommandType = "seek_relative"
	CmdSeekTo           CommandType = "seek_to"
	CmdGetState         CommandType = "get_state"
)

type Command struct {
	Type CommandType `json:"type"`

	StationIdx int     `json:"station_idx,omitempty"`
	Path       string  `json:"path,omitempty"`
	StartSecs  float64 `json:"start_secs,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
	Seconds    float64 `json:"seconds,omitempty"`
}

// BroadcastType enumerates the daemon-to-client message set.
type BroadcastType string

const (
	BcastHello      BroadcastType = "hello"
	BcastState      BroadcastType = "state"
	BcastIcy        BroadcastType = "icy"
	BcastLog        BroadcastType = "log"
	BcastError      BroadcastType = "error"
	BcastAudioLevel BroadcastType = "audio_level"
	BcastPcm        BroadcastType = "pcm"
)

type Broadcast struct {
	Type BroadcastType `json:"type"`

	// Hello
	ProtocolVersion int         `json:"protocol_version,omitempty"`
	Rev             uint64      `json:"rev,omitempty"`
	State           *DaemonState `json:"state,omitempty"`

	// Icy
	Title *string `json:"title,omitempty"`

	// Log / Error
	Message string `json:"message,omitempty"`

	// AudioLevel
	RmsDb float32 `json:"rms_db,omitempty"`

	// Pcm
	Samples []float32 `json:"samples,omitempty"`
}

// Droppable reports whether this broadcast may legitimately be dropped
// under subscriber backpressure (spec.md §4.1: Pcm and AudioLevel are
// high-frequency and droppable; State/Icy/Log/Error must not be dropped
// silently).
func (b Broadcast) Droppable() bool {
	return b.Type == BcastPcm || b.Type == BcastAudioLevel
}

// Message is the top-level frame payload: exactly one of Command or
// Broadcast is set, matching direction (client->daemon vs daemon->client).
type Message struct {
	Command   *Command   `json:"command,omitempty"`
	Broadcast *Broadcast `json:"broadcast,omitempty"`
}
