package link

// State is the association state of the wireless link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

func parseState(s string) State {
	switch s {
	case "connecting":
		return Connecting
	case "connected":
		return Connected
	default:
		return Disconnected
	}
}

// State machine events. A detected drop goes straight back to Connecting.
const (
	eventAssociate   = "associate"
	eventEstablished = "established"
	eventAbandon     = "abandon"
	eventLost        = "lost"
)
