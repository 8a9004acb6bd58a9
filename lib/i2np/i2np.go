package i2np

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	datalib "github.com/go-i2p/common/data"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// BaseI2NPMessage is the common implementation behind every I2NP message:
// type code, message ID, expiration, and the raw payload bytes.
type BaseI2NPMessage struct {
	type_      int
	messageID  int
	expiration time.Time
	data       []byte
}

// MaxI2NPStandardPayload is the maximum payload size for I2NP messages using
// the standard 16-byte header. The size field is 2 bytes (uint16), so the
// maximum representable value is 65535.
const MaxI2NPStandardPayload = 65535

// generateRandomMessageID creates a cryptographically random message ID.
// The result is masked to 31 bits (0x7FFFFFFF) to ensure a positive value
// on all platforms, including 32-bit systems where int is 32 bits.
func generateRandomMessageID() (int, error) {
	msgIDBytes := make([]byte, 4)
	if _, err := rand.Read(msgIDBytes); err != nil {
		return 0, oops.Errorf("i2np: crypto/rand failed: %w", err)
	}
	return int(binary.BigEndian.Uint32(msgIDBytes) & 0x7FFFFFFF), nil
}

// NewBaseI2NPMessage creates a new base I2NP message.
// If crypto/rand fails to generate a message ID, falls back to a time-based
// ID and logs a critical warning rather than panicking in library code.
func NewBaseI2NPMessage(msgType int) *BaseI2NPMessage {
	msgID, err := generateRandomMessageID()
	if err != nil {
		msgID = int(time.Now().UnixNano() & 0x7FFFFFFF)
		log.WithFields(logger.Fields{
			"at":          "NewBaseI2NPMessage",
			"error":       err.Error(),
			"fallback_id": msgID,
		}).Error("CSPRNG failed, using time-based message ID fallback")
	}
	return &BaseI2NPMessage{
		type_:      msgType,
		messageID:  msgID,
		expiration: time.Now().Add(60 * time.Second), // default 60s per spec recommendation
		data:       []byte{},
	}
}

// NewI2NPMessage creates a new base I2NP message and returns it as I2NPMessage interface
func NewI2NPMessage(msgType int) I2NPMessage {
	return NewBaseI2NPMessage(msgType)
}

// Type returns the message type
func (m *BaseI2NPMessage) Type() int {
	return m.type_
}

// MessageID returns the message ID
func (m *BaseI2NPMessage) MessageID() int {
	return m.messageID
}

// SetMessageID sets the message ID
func (m *BaseI2NPMessage) SetMessageID(id int) {
	m.messageID = id
}

// Expiration returns the expiration time
func (m *BaseI2NPMessage) Expiration() time.Time {
	return m.expiration
}

// SetExpiration sets the expiration time
func (m *BaseI2NPMessage) SetExpiration(exp time.Time) {
	m.expiration = exp
}

// SetData sets the message data
func (m *BaseI2NPMessage) SetData(data []byte) {
	m.data = data
}

// GetData returns the message data
func (m *BaseI2NPMessage) GetData() []byte {
	return m.data
}

// MarshalBinary serializes the I2NP message with the standard 16-byte header.
// Returns an error if the payload exceeds the 2-byte size field limit.
func (m *BaseI2NPMessage) MarshalBinary() ([]byte, error) {
	if len(m.data) > MaxI2NPStandardPayload {
		return nil, oops.Errorf("i2np: payload size %d exceeds maximum %d for standard header",
			len(m.data), MaxI2NPStandardPayload)
	}

	hash := sha256.Sum256(m.data)
	checksum := hash[0]

	// Header: type(1) + msgID(4) + expiration(8) + size(2) + checksum(1) = 16 bytes
	result := make([]byte, 16+len(m.data))

	result[0] = byte(m.type_)

	result[1] = byte(m.messageID >> 24)
	result[2] = byte(m.messageID >> 16)
	result[3] = byte(m.messageID >> 8)
	result[4] = byte(m.messageID)

	exp, err := datalib.DateFromTime(m.expiration)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to convert expiration time")
	}
	copy(result[5:13], exp[:])

	size := len(m.data)
	result[13] = byte(size >> 8)
	result[14] = byte(size)

	result[15] = checksum

	copy(result[16:], m.data)

	return result, nil
}

// UnmarshalBinary deserializes an I2NP message with the standard 16-byte header.
func (m *BaseI2NPMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return oops.Errorf("i2np message too short: %d bytes", len(data))
	}

	m.type_ = int(data[0])
	// Mask to 31 bits to guarantee positive int on 32-bit platforms
	m.messageID = (int(data[1])<<24 | int(data[2])<<16 | int(data[3])<<8 | int(data[4])) & 0x7FFFFFFF

	var expDate datalib.Date
	copy(expDate[:], data[5:13])
	m.expiration = expDate.Time()

	size := int(data[13])<<8 | int(data[14])
	expectedChecksum := data[15]

	if len(data) < 16+size {
		return oops.Errorf("i2np message data truncated: expected %d bytes, got %d", 16+size, len(data))
	}

	m.data = make([]byte, size)
	copy(m.data, data[16:16+size])

	hash := sha256.Sum256(m.data)
	if hash[0] != expectedChecksum {
		return oops.Errorf("i2np message checksum mismatch: expected 0x%02x, got 0x%02x", expectedChecksum, hash[0])
	}

	return nil
}
