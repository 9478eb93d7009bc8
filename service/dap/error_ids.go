package dap

// Ids of the ErrorMessage sent with failed responses. The protocol only
// requires them to be distinct.
const (
	UnsupportedCommand = 9999
	InternalError      = 8888

	FailedToAttach             = 3001
	UnableToEvaluateExpression = 2009
	UnableToSetExpression      = 2012
	UnableToDisassemble        = 2013
	UnableToReadMemory         = 2016
)
