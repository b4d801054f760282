package core

import "time"

// Wire-level sizes, all in bytes unless noted otherwise.
const (
	CubeSize            = 1024
	CubeKeySize         = 32
	PeerIDSize          = 16
	TimestampSize       = 5 // 40-bit big-endian seconds since epoch
	ChallengeLevelSize  = 1
	CubeTypeSize        = 1
	HashSize            = 32
	FingerprintSize     = 8
	SignatureSize       = 64
	PublicKeySize       = 32
	NonceSize           = 4
	MaxCubeHashCount    = 1000
	MaxNodeAddressCount = 50

	// MaxMessageSize bounds a single framed application message: the
	// largest legitimate frame is a full CubeResponse carrying
	// MaxCubeHashCount whole cubes, plus its count prefix and the
	// 2-byte message header.
	MaxMessageSize = 2 + 4 + MaxCubeHashCount*CubeSize
)

// Difficulty / timing knobs. Production values per spec.md §6. Tests do
// not use RequiredDifficulty; they pass difficulty 0 to the cube and
// store constructors for determinism.
const (
	RequiredDifficulty = 12
	MaximumConnections = 20

	KeyRequestInterval    = 10 * time.Second
	NodeRequestInterval   = 60 * time.Second
	AnnouncementInterval  = 25 * time.Minute
	NewPeerInterval       = 1 * time.Second
	ReconnectInterval     = 10 * time.Second
	NetworkTimeout        = 10 * time.Second
	HelloTimeout          = 5 * time.Second
	FibMax                = 20
	miningYieldEvery      = 1000
	cubeSubscriptionPeriod = 5 * time.Minute
)

// CubeType classifies a Cube's authenticity rule and keying scheme.
type CubeType uint8

const (
	CubeTypeFrozen CubeType = 0xFF // FROZEN / REGULAR: content-addressed
	CubeTypeMUC    CubeType = 0x00 // Mutable User Cube: key = public key
)

func (t CubeType) String() string {
	switch t {
	case CubeTypeFrozen:
		return "FROZEN"
	case CubeTypeMUC:
		return "MUC"
	default:
		return "RESERVED"
	}
}

// ProtocolVersion is the current wire protocol version.
const ProtocolVersion uint8 = 1

// MessageClass enumerates the application-layer message types of §4.H.
type MessageClass uint8

const (
	MessageHello MessageClass = iota
	MessageKeyRequest
	MessageKeyResponse
	MessageCubeRequest
	MessageCubeResponse
	MessageNodeRequest
	MessageNodeResponse
	MessageMyServerAddress
	MessageSubscribeCube
	MessageSubscriptionConfirmation
)

func (c MessageClass) String() string {
	switch c {
	case MessageHello:
		return "Hello"
	case MessageKeyRequest:
		return "KeyRequest"
	case MessageKeyResponse:
		return "KeyResponse"
	case MessageCubeRequest:
		return "CubeRequest"
	case MessageCubeResponse:
		return "CubeResponse"
	case MessageNodeRequest:
		return "NodeRequest"
	case MessageNodeResponse:
		return "NodeResponse"
	case MessageMyServerAddress:
		return "MyServerAddress"
	case MessageSubscribeCube:
		return "SubscribeCube"
	case MessageSubscriptionConfirmation:
		return "SubscriptionConfirmation"
	default:
		return "Unknown"
	}
}

// SubscriptionCode is the result code carried by SubscriptionConfirmation.
type SubscriptionCode uint8

const (
	SubscriptionConfirmed      SubscriptionCode = 0
	SubscriptionKeyNotAvailable SubscriptionCode = 1
)
