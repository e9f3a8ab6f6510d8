package bridges

// Status is the normalised state of a bridge transfer
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusPendingSource      Status = "PENDING_SOURCE"
	StatusSourceConfirmed    Status = "SOURCE_CONFIRMED"
	StatusBridging           Status = "BRIDGING"
	StatusDestinationPending Status = "DESTINATION_PENDING"
	StatusCompleted          Status = "COMPLETED"
	StatusFailed             Status = "FAILED"
	StatusRefunded           Status = "REFUNDED"
	StatusExpired            Status = "EXPIRED"
)

// IsTerminal reports whether the transfer will not change state anymore
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// IsSuccess is true only for a delivered transfer
func (s Status) IsSuccess() bool {
	return s == StatusCompleted
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPendingSource, StatusSourceConfirmed, StatusBridging,
		StatusDestinationPending, StatusCompleted, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}
