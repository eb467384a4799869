package store

// MediaKind identifies the payload carried by a message.
type MediaKind string

const (
	KindText        MediaKind = "text"
	KindImage       MediaKind = "image"
	KindAudio       MediaKind = "audio"
	KindVideo       MediaKind = "video"
	KindLocation    MediaKind = "location"
	KindSectionDate MediaKind = "section_date" // synthetic day-boundary marker
)

// SendState is the outbound lifecycle state of a self-authored message.
// Inbound messages carry SendNone.
type SendState string

const (
	SendNone    SendState = ""
	SendPending SendState = "pending"
	SendSent    SendState = "sent"
	SendFailed  SendState = "failed"
)

// DownloadState tracks media retrieval for received messages.
type DownloadState string

const (
	DownloadNone       DownloadState = ""
	DownloadNotStarted DownloadState = "not_downloaded"
	Downloading        DownloadState = "downloading"
	Downloaded         DownloadState = "downloaded"
)

// ReadState marks whether a received message has been read locally.
type ReadState string

const (
	Unread ReadState = "unread"
	Read   ReadState = "read"
)

// Message is one entry of a conversation's arrival-ordered log.
type Message struct {
	Seq            int64  // storage key, assigned on append; defines log order
	ConversationID string
	ServerID       string // empty until the transport confirms the message
	ClientID       string // request-scoped id pairing a send with its confirmation
	SenderID       string
	MediaKind      MediaKind
	Body           string
	LocalPath      string
	DownloadURL    string
	SendState      SendState
	SendError      string
	DownloadState  DownloadState
	ReadState      ReadState
	CreatedAt      int64
	Meta           *MediaMeta // nil when no metadata record is attached
}

// IsSectionDate reports whether the message is a synthetic day marker.
func (m *Message) IsSectionDate() bool {
	return m.MediaKind == KindSectionDate
}

// MediaMeta holds display metadata attached to a media message.
// It is deleted in cascade with its message.
type MediaMeta struct {
	MessageSeq int64
	Width      float64
	Height     float64
	Duration   float64
}

// Conversation identifies a peer or group thread and carries its draft.
type Conversation struct {
	ID         string
	PeerID     string
	PeerName   string
	IsGroup    bool
	DraftText  string
	DraftState string
	UpdatedAt  int64
}

// SearchResult holds a message matched by full-text search with a snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
