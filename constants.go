package rdma

import "github.com/ankit-raj78/xv6-RDMA/internal/constants"

// Re-export constants for the public API.
const (
	MaxMRs          = constants.MaxMRs
	MaxQPs          = constants.MaxQPs
	DefaultSQSize   = constants.DefaultSQSize
	DefaultCQSize   = constants.DefaultCQSize
	PendingAckSlots = constants.PendingAckSlots
	PageSize        = constants.PageSize
	EtherTypeRDMA   = constants.EtherTypeRDMA
)
