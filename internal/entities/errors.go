package entities

import "errors"

var (
	ErrTransportTimeout     = errors.New("transport timeout")
	ErrTransportUnavailable = errors.New("no session bound to instance")
	ErrRecipientUnreachable = errors.New("recipient not on whatsapp")
	ErrConfigurationInvalid = errors.New("invalid configuration")
	ErrExternalRequest      = errors.New("external request failed")
	ErrPersistence          = errors.New("persistence failure")
	ErrUnknownNodeKind      = errors.New("unknown node kind")
)
