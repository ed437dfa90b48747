package types

const (
	// ModuleName defines the module name
	ModuleName = "compute"

	// StoreKey defines the primary module store key
	StoreKey = ModuleName

	// RouterKey is the message route for compute
	RouterKey = ModuleName

	// QuerierRoute defines the module's query routing key
	QuerierRoute = ModuleName
)

const (
	// NumRounds is the number of independent executions of every started task.
	NumRounds = 3

	// Quorum is the number of identical disclosures that decides a task.
	Quorum = NumRounds/2 + 1
)
