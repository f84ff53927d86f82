package protocol

// Inbound is a decoded server-to-client message. The concrete types are
// FlowMapImage, FrameImage, TransformedFrameImage and UnknownMessage.
type Inbound interface {
	inbound()
}

type FlowMapImage struct {
	Payload []byte
}

type FrameImage struct {
	Payload []byte
}

type TransformedFrameImage struct {
	Payload []byte
}

type UnknownMessage struct {
	Tag     byte
	Payload []byte
}

func (FlowMapImage) inbound()          {}
func (FrameImage) inbound()            {}
func (TransformedFrameImage) inbound() {}
func (UnknownMessage) inbound()        {}

// DecodeInbound turns a framed message into its typed form.
func (p Profile) DecodeInbound(msg Message) Inbound {
	switch msg.Tag {
	case TagFlowMap:
		return FlowMapImage{Payload: msg.Payload}
	case TagFrame:
		return FrameImage{Payload: msg.Payload}
	case TagTransformedFrame:
		if p.transformed {
			return TransformedFrameImage{Payload: msg.Payload}
		}
	}
	return UnknownMessage{Tag: msg.Tag, Payload: msg.Payload}
}
