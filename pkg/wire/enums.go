package wire

import (
	"fmt"

	"github.com/midici-protocol/midici-go/pkg/version"
)

// SubID is the sub-ID#2 byte selecting the MIDI-CI message.
type SubID uint8

// Management messages.
const (
	SubIDDiscovery      SubID = 0x70
	SubIDDiscoveryReply SubID = 0x71
	SubIDInvalidateMUID SubID = 0x7E
	SubIDNAK            SubID = 0x7F
)

// Protocol negotiation messages.
const (
	SubIDProtocolNegotiation      SubID = 0x10
	SubIDProtocolNegotiationReply SubID = 0x11
	SubIDSetNewProtocol           SubID = 0x12
	SubIDTestNewProtocolIR        SubID = 0x13
	SubIDTestNewProtocolRI        SubID = 0x14
	SubIDConfirmNewProtocol       SubID = 0x15
)

// Profile configuration messages.
const (
	SubIDProfileInquiry        SubID = 0x20
	SubIDProfileInquiryReply   SubID = 0x21
	SubIDSetProfileOn          SubID = 0x22
	SubIDSetProfileOff         SubID = 0x23
	SubIDProfileEnabledReport  SubID = 0x24
	SubIDProfileDisabledReport SubID = 0x25
	SubIDProfileDetailsInquiry SubID = 0x28
	SubIDProfileDetailsReply   SubID = 0x29
)

// Property exchange messages.
const (
	SubIDPropertyCapabilities      SubID = 0x30
	SubIDPropertyCapabilitiesReply SubID = 0x31
	SubIDGetPropertyData           SubID = 0x34
	SubIDGetPropertyDataReply      SubID = 0x35
	SubIDSetPropertyData           SubID = 0x36
	SubIDSetPropertyDataReply      SubID = 0x37
	SubIDSubscription              SubID = 0x38
	SubIDSubscriptionReply         SubID = 0x39
	SubIDPropertyNotify            SubID = 0x3F
)

var subIDNames = map[SubID]string{
	SubIDDiscovery:                 "Discovery",
	SubIDDiscoveryReply:            "DiscoveryReply",
	SubIDInvalidateMUID:            "InvalidateMUID",
	SubIDNAK:                       "NAK",
	SubIDProtocolNegotiation:       "ProtocolNegotiation",
	SubIDProtocolNegotiationReply:  "ProtocolNegotiationReply",
	SubIDSetNewProtocol:            "SetNewProtocol",
	SubIDTestNewProtocolIR:         "TestNewProtocolIR",
	SubIDTestNewProtocolRI:         "TestNewProtocolRI",
	SubIDConfirmNewProtocol:        "ConfirmNewProtocol",
	SubIDProfileInquiry:            "ProfileInquiry",
	SubIDProfileInquiryReply:       "ProfileInquiryReply",
	SubIDSetProfileOn:              "SetProfileOn",
	SubIDSetProfileOff:             "SetProfileOff",
	SubIDProfileEnabledReport:      "ProfileEnabledReport",
	SubIDProfileDisabledReport:     "ProfileDisabledReport",
	SubIDProfileDetailsInquiry:     "ProfileDetailsInquiry",
	SubIDProfileDetailsReply:       "ProfileDetailsReply",
	SubIDPropertyCapabilities:      "PropertyCapabilities",
	SubIDPropertyCapabilitiesReply: "PropertyCapabilitiesReply",
	SubIDGetPropertyData:           "GetPropertyData",
	SubIDGetPropertyDataReply:      "GetPropertyDataReply",
	SubIDSetPropertyData:           "SetPropertyData",
	SubIDSetPropertyDataReply:      "SetPropertyDataReply",
	SubIDSubscription:              "Subscription",
	SubIDSubscriptionReply:         "SubscriptionReply",
	SubIDPropertyNotify:            "PropertyNotify",
}

// String returns the message name.
func (s SubID) String() string {
	if name, ok := subIDNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(s))
}

// IsProperty reports whether s uses the chunked property exchange layout.
func (s SubID) IsProperty() bool {
	switch s {
	case SubIDGetPropertyData, SubIDGetPropertyDataReply,
		SubIDSetPropertyData, SubIDSetPropertyDataReply,
		SubIDSubscription, SubIDSubscriptionReply, SubIDPropertyNotify:
		return true
	}
	return false
}

// Category is the Capability Inquiry Category Supported bitmap from Discovery.
type Category uint8

const (
	// CategoryProtocolNegotiation indicates protocol negotiation support.
	CategoryProtocolNegotiation Category = 1 << 1
	// CategoryProfiles indicates profile configuration support.
	CategoryProfiles Category = 1 << 2
	// CategoryPropertyExchange indicates property exchange support.
	CategoryPropertyExchange Category = 1 << 3
	// CategoryProcessInquiry indicates process inquiry support.
	CategoryProcessInquiry Category = 1 << 4
)

// Has reports whether every bit of flag is set.
func (c Category) Has(flag Category) bool {
	return c&flag == flag
}

// NAK status codes.
const (
	NAKStatusNAK              byte = 0x00
	NAKStatusUnsupported      byte = 0x01
	NAKStatusUnknownVersion   byte = 0x02
	NAKStatusTargetNotFound   byte = 0x03
	NAKStatusTerminateInquiry byte = 0x20
	NAKStatusBusy             byte = 0x21
	NAKStatusMalformed        byte = 0x41
)

// Addressing values for the device ID byte.
const (
	DeviceIDGroup         byte = 0x7E
	DeviceIDFunctionBlock byte = 0x7F
)

// Fixed header bytes.
const (
	UniversalNonRealtime byte = 0x7E
	SubIDCI              byte = 0x0D

	// Version is the message format version emitted by this package.
	Version = version.CIMessageFormat

	// HeaderSize is the size of the common header.
	HeaderSize = 13
)
