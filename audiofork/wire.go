package audiofork

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers of the fork messages.
const (
	fieldRequestConversationID protowire.Number = 1
	fieldRequestAudio          protowire.Number = 2

	fieldAudioRoleID protowire.Number = 1
	fieldAudioData   protowire.Number = 2

	fieldResponseStatusMessage protowire.Number = 1
)

// MarshalWire encodes r in protobuf wire format.
func (r *ForkRequest) MarshalWire() ([]byte, error) {
	var b []byte
	if r == nil {
		return b, nil
	}
	if r.ConversationID != "" {
		b = protowire.AppendTag(b, fieldRequestConversationID, protowire.BytesType)
		b = protowire.AppendString(b, r.ConversationID)
	}
	if r.Audio != nil {
		audio, err := r.Audio.MarshalWire()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldRequestAudio, protowire.BytesType)
		b = protowire.AppendBytes(b, audio)
	}
	return b, nil
}

// UnmarshalWire decodes b into r, skipping unknown fields.
func (r *ForkRequest) UnmarshalWire(b []byte) error {
	*r = ForkRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldRequestConversationID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return n, nil
			}
			r.ConversationID = s
			return n, nil
		case num == fieldRequestAudio && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			if r.Audio == nil {
				r.Audio = &Audio{}
			}
			// Repeated occurrences of an embedded message merge.
			if err := r.Audio.merge(msg); err != nil {
				return 0, err
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

// MarshalWire encodes a in protobuf wire format.
func (a *Audio) MarshalWire() ([]byte, error) {
	var b []byte
	if a == nil {
		return b, nil
	}
	if a.RoleID != "" {
		b = protowire.AppendTag(b, fieldAudioRoleID, protowire.BytesType)
		b = protowire.AppendString(b, a.RoleID)
	}
	if len(a.AudioData) > 0 {
		b = protowire.AppendTag(b, fieldAudioData, protowire.BytesType)
		b = protowire.AppendBytes(b, a.AudioData)
	}
	return b, nil
}

// UnmarshalWire decodes b into a, skipping unknown fields.
func (a *Audio) UnmarshalWire(b []byte) error {
	*a = Audio{}
	return a.merge(b)
}

func (a *Audio) merge(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldAudioRoleID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n >= 0 {
				a.RoleID = s
			}
			return n, nil
		case num == fieldAudioData && typ == protowire.BytesType:
			data, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				a.AudioData = data
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

// MarshalWire encodes r in protobuf wire format.
func (r *ForkResponse) MarshalWire() ([]byte, error) {
	var b []byte
	if r == nil || r.StatusMessage == "" {
		return b, nil
	}
	b = protowire.AppendTag(b, fieldResponseStatusMessage, protowire.BytesType)
	return protowire.AppendString(b, r.StatusMessage), nil
}

// UnmarshalWire decodes b into r, skipping unknown fields.
func (r *ForkResponse) UnmarshalWire(b []byte) error {
	*r = ForkResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == fieldResponseStatusMessage && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(v)
			if n >= 0 {
				r.StatusMessage = s
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

// consumeFields walks the fields of one message. field returns the number of
// value bytes it consumed, or a negative protowire error code.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("audiofork: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("audiofork: malformed field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
