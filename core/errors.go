package core

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrUnknownTechnology        = errors.New("unknown mac-protocol")
	ErrMissingParameter         = errors.New("missing required parameter")
	ErrCustomAntennaRequired    = errors.New("technology requires a custom antenna model")
	ErrMalformedParameter       = errors.New("malformed parameter")
	ErrAntennaNotFound          = errors.New("antenna not found")
	ErrConflictingChannelModels = errors.New("MIMO channel model and fading model both configured")
	ErrAntennaNumbersAssigned   = errors.New("antenna numbers already assigned")
	ErrNoBuilder                = errors.New("no builder registered")
	ErrHelperUnsupported        = errors.New("MAC cannot carry helper-layer frames")
)

// ConfigurationError is a setup-time fault. It names the node and, when
// known, the interface whose configuration is inconsistent. The top level
// reports it and aborts; nothing in the core recovers from it.
type ConfigurationError struct {
	NodeID      string
	InterfaceID string
	Err         error
}

func (e *ConfigurationError) Error() string {
	if e.InterfaceID == "" {
		return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
	}
	return fmt.Sprintf("node %s interface %s: %v", e.NodeID, e.InterfaceID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// configErrorf builds a ConfigurationError wrapping err with extra
// context, carrying a stack trace for diagnostics.
func configErrorf(nodeID, interfaceID string, err error, format string, args ...any) error {
	if format != "" {
		err = fmt.Errorf("%w: "+format, append([]any{err}, args...)...)
	}
	return pkgerrors.WithStack(&ConfigurationError{NodeID: nodeID, InterfaceID: interfaceID, Err: err})
}

// asConfigError wraps err as a ConfigurationError unless it already is one.
func asConfigError(nodeID, interfaceID string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	return configErrorf(nodeID, interfaceID, err, "")
}
