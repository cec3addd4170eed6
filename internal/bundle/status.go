package bundle

// ReasonCode explains the outcome of a forwarding attempt. Values follow the
// bundle protocol status report reason codes.
type ReasonCode uint8

const (
	NoAdditionalInformation         ReasonCode = 0
	LifetimeExpired                 ReasonCode = 1
	ForwardedOverUnidirectionalLink ReasonCode = 2
	TransmissionCanceled            ReasonCode = 3
	DepletedStorage                 ReasonCode = 4
	DestinationEndpointUnavailable  ReasonCode = 5
	NoKnownRouteToDestination       ReasonCode = 6
	NoTimelyContactWithNextNode     ReasonCode = 7
	BlockUnintelligible             ReasonCode = 8
	HopLimitExceeded                ReasonCode = 9
)

var reasonNames = map[ReasonCode]string{
	NoAdditionalInformation:         "no additional information",
	LifetimeExpired:                 "lifetime expired",
	ForwardedOverUnidirectionalLink: "forwarded over unidirectional link",
	TransmissionCanceled:            "transmission canceled",
	DepletedStorage:                 "depleted storage",
	DestinationEndpointUnavailable:  "destination endpoint unavailable",
	NoKnownRouteToDestination:       "no known route to destination",
	NoTimelyContactWithNextNode:     "no timely contact with next node",
	BlockUnintelligible:             "block unintelligible",
	HopLimitExceeded:                "hop limit exceeded",
}

func (c ReasonCode) String() string {
	if s, ok := reasonNames[c]; ok {
		return s
	}
	return "unknown"
}
