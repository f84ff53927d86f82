package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Command identifies a client-to-server request independent of its tag value.
type Command int

const (
	CommandRequestFrame Command = iota + 1
	CommandEditedFrame
	CommandStreamStart
	CommandStreamStop
	CommandAnnotationPoints
	CommandRequestTransformedFrame
	CommandWaterJetVectors
)

var commandNames = map[Command]string{
	CommandRequestFrame:            "request-frame",
	CommandEditedFrame:             "edited-frame",
	CommandStreamStart:             "stream-start",
	CommandStreamStop:              "stream-stop",
	CommandAnnotationPoints:        "annotation-points",
	CommandRequestTransformedFrame: "request-transformed-frame",
	CommandWaterJetVectors:         "water-jet-vectors",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// HasPayload reports whether the command carries a length-prefixed payload.
func (c Command) HasPayload() bool {
	switch c {
	case CommandEditedFrame, CommandAnnotationPoints, CommandWaterJetVectors:
		return true
	default:
		return false
	}
}

// Server-to-client tags.
const (
	TagFlowMap          byte = 1
	TagFrame            byte = 2
	TagTransformedFrame byte = 3
)

var ErrUnsupportedCommand = errors.New("protocol: command not available in profile")

// Profile is the tag assignment used by one deployment. The two known servers
// disagree on what tag 3 means from the client, so the choice is explicit.
type Profile struct {
	Name        string
	commands    map[Command]byte
	transformed bool
}

// Streaming matches the bundled image server: stream control on 3/4,
// annotation points on 5 and the perspective-transformed frame extensions.
var Streaming = Profile{
	Name: "streaming",
	commands: map[Command]byte{
		CommandRequestFrame:            1,
		CommandEditedFrame:             2,
		CommandStreamStart:             3,
		CommandStreamStop:              4,
		CommandAnnotationPoints:        5,
		CommandRequestTransformedFrame: 6,
		CommandWaterJetVectors:         7,
	},
	transformed: true,
}

// Annotation is the older annotation-tool protocol where tag 3 carries points.
var Annotation = Profile{
	Name: "annotation",
	commands: map[Command]byte{
		CommandRequestFrame:     1,
		CommandEditedFrame:      2,
		CommandAnnotationPoints: 3,
		CommandStreamStop:       4,
	},
}

// ProfileByName resolves a configured profile name. Empty selects Streaming.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Streaming.Name:
		return Streaming, nil
	case Annotation.Name:
		return Annotation, nil
	default:
		return Profile{}, fmt.Errorf("unknown protocol profile %q", name)
	}
}

// Tag returns the wire tag for cmd.
func (p Profile) Tag(cmd Command) (byte, error) {
	tag, ok := p.commands[cmd]
	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", ErrUnsupportedCommand, cmd, p.Name)
	}
	return tag, nil
}

// CommandFor maps an incoming client tag back to a command (server side).
func (p Profile) CommandFor(tag byte) (Command, bool) {
	for cmd, t := range p.commands {
		if t == tag {
			return cmd, true
		}
	}
	return 0, false
}

// EncodeCommand frames cmd for this profile. Payload is ignored for
// payload-less commands.
func (p Profile) EncodeCommand(cmd Command, payload []byte) ([]byte, error) {
	tag, err := p.Tag(cmd)
	if err != nil {
		return nil, err
	}
	if !cmd.HasPayload() {
		return EncodeBare(tag), nil
	}
	return Encode(tag, payload), nil
}

// SupportsTransformedFrames reports whether inbound tag 3 is a transformed frame.
func (p Profile) SupportsTransformedFrames() bool {
	return p.transformed
}

// ParseCommand resolves a command by its String name, e.g. "stream-start".
func ParseCommand(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for cmd, n := range commandNames {
		if n == name {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}
