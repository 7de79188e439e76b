package uds

const (
	// MaxUsers is the capacity of the server's user data store.
	MaxUsers = 4
	// MaxConsentCode is the largest valid consent code.
	MaxConsentCode = 9999
	// MaxConsentAttempts is the number of wrong consent codes tolerated
	// before a user is locked out.
	MaxConsentAttempts = 3
	// UnknownUserIndex marks "no user selected".
	UnknownUserIndex = 0xFF
	// MaxStringLength bounds the variable length string characteristics.
	MaxStringLength = 128
	// DefaultMTU is the ATT MTU before any exchange has completed.
	DefaultMTU = 23
)

// CCCD configuration bits.
const (
	CCCDNotify   uint16 = 0x0001
	CCCDIndicate uint16 = 0x0002
)

// ValidConsentCode reports whether the consent code is inside the range the
// service accepts.
func ValidConsentCode(code uint16) bool {
	return code <= MaxConsentCode
}
