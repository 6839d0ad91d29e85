package manager

import "errors"

var (
	ErrPrivateMode       = errors.New("manager: private mode, caller not an allowed handler")
	ErrCooldownActive    = errors.New("manager: cooldown not elapsed since last deposit")
	ErrFirstMintTooSmall = errors.New("manager: first mint below minimum share threshold")
	ErrNoShareSupply     = errors.New("manager: no shares outstanding")
)
