package protocol

// KeepAliveReply builds the reply for a keep-alive request received on the given
// channel. The timestamp is echoed unchanged.
func KeepAliveReply(role Role, req KeepAliveRequest) Message {
	if role == RoleMedia {
		return KeepAliveAck{Timestamp: req.Timestamp}
	}
	return KeepAliveResponse{Timestamp: req.Timestamp}
}
