package projector

import (
	"bytes"
	"fmt"
)

// Codec builds outgoing device commands and classifies inbound chunks.
//
// Implementations must be stateless; the session may call them from its event
// loop at any time.
type Codec interface {
	BootCommand() []byte
	ShutdownCommand() []byte
	QueryStatusCommand() []byte
	Classify(chunk []byte) Classification
}

// Classification describes which marker sets an inbound chunk matched.
// A single chunk may match several at once, so the fields are independent.
type Classification struct {
	StatusUp   bool
	StatusDown bool
	AckSuccess bool
	AckFailure bool
}

// Classified reports whether the chunk matched any marker set.
func (c Classification) Classified() bool {
	return c.StatusUp || c.StatusDown || c.AckSuccess || c.AckFailure
}

// IsAck reports whether the chunk carries an acknowledgement marker.
func (c Classification) IsAck() bool {
	return c.AckSuccess || c.AckFailure
}

// IsStatus reports whether the chunk carries a status marker.
func (c Classification) IsStatus() bool {
	return c.StatusUp || c.StatusDown
}

// Marker sets of the Optoma RS-232/telnet protocol.
var (
	statusUpMarkers   = [][]byte{[]byte("INFO1"), []byte("OK1"), []byte("Ok1")}
	statusDownMarkers = [][]byte{[]byte("INFO0"), []byte("OK0"), []byte("Ok0")}
	ackSuccessMarker  = []byte("P")
	ackFailureMarker  = []byte("F")
)

// Command bodies following the two-digit unit id.
const (
	bootBody        = "00 1"
	shutdownBody    = "00 2"
	queryStatusBody = "150 1"
	lineTerminator  = "\r\n"
)

// FormatUnitID renders a unit id as the two-digit address embedded in every
// command. Values of 100 and above keep only their last two digits, so 101
// becomes "01".
func FormatUnitID(id int) string {
	s := fmt.Sprintf("0%d", id)
	return s[len(s)-2:]
}

func buildCommand(unitID int, body string) []byte {
	return []byte("~" + FormatUnitID(unitID) + body + lineTerminator)
}

// BuildBootCommand returns the power-on command for a unit ("~NN00 1\r\n").
func BuildBootCommand(unitID int) []byte { return buildCommand(unitID, bootBody) }

// BuildShutdownCommand returns the power-off command for a unit ("~NN00 2\r\n").
func BuildShutdownCommand(unitID int) []byte { return buildCommand(unitID, shutdownBody) }

// BuildQueryStatusCommand returns the power status query for a unit ("~NN150 1\r\n").
func BuildQueryStatusCommand(unitID int) []byte { return buildCommand(unitID, queryStatusBody) }

// Classify matches a raw chunk against the Optoma marker sets.
//
// The ack markers are single characters, so any status text carrying a bare
// "P" or "F" also reports an ack. This ambiguity comes from the device
// protocol and is kept as-is.
func Classify(chunk []byte) Classification {
	return Classification{
		StatusUp:   containsAny(chunk, statusUpMarkers),
		StatusDown: containsAny(chunk, statusDownMarkers),
		AckSuccess: bytes.Contains(chunk, ackSuccessMarker),
		AckFailure: bytes.Contains(chunk, ackFailureMarker),
	}
}

func containsAny(chunk []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(chunk, m) {
			return true
		}
	}
	return false
}

// OptomaCodec is the default Codec for a single projector unit.
type OptomaCodec struct {
	boot, shutdown, query []byte
}

// NewOptomaCodec returns a codec addressing the given unit id.
func NewOptomaCodec(unitID int) *OptomaCodec {
	return &OptomaCodec{
		boot:     BuildBootCommand(unitID),
		shutdown: BuildShutdownCommand(unitID),
		query:    BuildQueryStatusCommand(unitID),
	}
}

// BootCommand implements Codec.
func (c *OptomaCodec) BootCommand() []byte { return c.boot }

// ShutdownCommand implements Codec.
func (c *OptomaCodec) ShutdownCommand() []byte { return c.shutdown }

// QueryStatusCommand implements Codec.
func (c *OptomaCodec) QueryStatusCommand() []byte { return c.query }

// Classify implements Codec.
func (c *OptomaCodec) Classify(chunk []byte) Classification { return Classify(chunk) }

var _ Codec = (*OptomaCodec)(nil)
