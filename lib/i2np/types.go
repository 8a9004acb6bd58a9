package i2np

import (
	"time"
)

// I2NP message type codes used by this module. The full set lives with the
// message-processing collaborator.
const (
	I2NP_MESSAGE_TYPE_DELIVERY_STATUS = 10
	I2NP_MESSAGE_TYPE_DATA            = 20
)

// MessageSerializer represents types that can be marshaled and unmarshaled
type MessageSerializer interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// MessageIdentifier represents types that have message identification
type MessageIdentifier interface {
	Type() int
	MessageID() int
	SetMessageID(id int)
}

// MessageExpiration represents types that have expiration management
type MessageExpiration interface {
	Expiration() time.Time
	SetExpiration(exp time.Time)
}

// PayloadCarrier represents messages that carry payload data
type PayloadCarrier interface {
	GetPayload() []byte
}

// I2NPMessage interface represents any I2NP message that can be marshaled/unmarshaled
// This is the primary interface that combines all core message behaviors
type I2NPMessage interface {
	MessageSerializer
	MessageIdentifier
	MessageExpiration
}
