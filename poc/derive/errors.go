package derive

import "errors"

// ErrEmptyHexList is returned when the candidate zone list (all populated
// hexes for v4, or the bounded random sample for v6) is empty.
var ErrEmptyHexList = errors.New("derive: empty hex list")

// ErrZoneWeightZero is returned when every candidate zone has zero weight
// and reselection is exhausted.
var ErrZoneWeightZero = errors.New("derive: zone weight is zero")

// ErrNoGatewaysFound is returned when every zone's filtered candidate set
// is empty and the retry budget (poc_target_pool_size attempts) is
// exhausted.
var ErrNoGatewaysFound = errors.New("derive: no gateways found")
