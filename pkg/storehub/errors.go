package storehub

import "fmt"

// ErrUnknownStoreID is returned when an operation names a store id the hub
// has no record of (spec.md §7's UnknownStoreId kind).
type ErrUnknownStoreID struct {
	StoreID StoreID
}

func (e *ErrUnknownStoreID) Error() string {
	return fmt.Sprintf("storehub: unknown store id %q", e.StoreID)
}

// ErrWrongKind is returned when an operation requires a store of a specific
// Kind (e.g. activating a blueprint by the id of a recording).
type ErrWrongKind struct {
	StoreID  StoreID
	Want     Kind
	Got      Kind
	Activity string
}

func (e *ErrWrongKind) Error() string {
	return fmt.Sprintf("storehub: %s requires a %s store, but %q is a %s", e.Activity, e.Want, e.StoreID, e.Got)
}

// ErrBlueprintValidationFailed is returned when the registered
// BlueprintValidator rejects a blueprint a caller tried to activate.
type ErrBlueprintValidationFailed struct {
	StoreID StoreID
}

func (e *ErrBlueprintValidationFailed) Error() string {
	return fmt.Sprintf("storehub: blueprint %q failed validation", e.StoreID)
}
