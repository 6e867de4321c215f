package collector

import "errors"

var (
	ErrUnknownCollector    = errors.New("unknown collector")
	ErrContributionFailed  = errors.New("collector contribution failed")
	ErrCollectorConflict   = errors.New("collector name already bound to another type")
	ErrBuiltinCollector    = errors.New("built-in collectors cannot be unregistered")
	ErrInvalidDefinition   = errors.New("invalid collector definition")
	ErrUnexpectedAggregate = errors.New("collected value has unexpected type")
)
