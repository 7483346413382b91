package audiofork

// ForkRequest carries one audio chunk for one role of a conversation.
type ForkRequest struct {
	ConversationID string `cbor:"conversationId"`
	Audio          *Audio `cbor:"audio,omitempty"`
}

// Audio is a chunk of raw audio attributed to a role.
type Audio struct {
	RoleID    string `cbor:"roleId"`
	AudioData []byte `cbor:"audioData,omitempty"`
}

// ForkResponse acknowledges one accepted chunk.
type ForkResponse struct {
	StatusMessage string `cbor:"statusMessage"`
}

// GetConversationID returns the conversation id, or "" for a nil request.
func (r *ForkRequest) GetConversationID() string {
	if r == nil {
		return ""
	}
	return r.ConversationID
}

// GetAudio returns the audio payload, which may be nil.
func (r *ForkRequest) GetAudio() *Audio {
	if r == nil {
		return nil
	}
	return r.Audio
}

// GetRoleID returns the role id, or "" for a nil chunk.
func (a *Audio) GetRoleID() string {
	if a == nil {
		return ""
	}
	return a.RoleID
}

// GetAudioData returns the audio bytes, or nil for a nil chunk.
func (a *Audio) GetAudioData() []byte {
	if a == nil {
		return nil
	}
	return a.AudioData
}
