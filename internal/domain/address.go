package domain

// AbsoluteAddressThreshold is the boundary above which a defined address is
// treated as already absolute and the deployment offset is not applied.
const AbsoluteAddressThreshold = 1000

// TranslateAddress maps a logical 1-based defined address to the 0-based
// wire address. Addresses at or below the threshold are relative to the
// deployment offset; addresses above it are already absolute. Negative or
// zero inputs clamp to wire address 0.
func TranslateAddress(defined, offset int) uint16 {
	if defined <= 0 {
		return 0
	}
	var actual int
	if defined <= AbsoluteAddressThreshold {
		actual = offset + defined - 1
	} else {
		actual = defined - 1
	}
	if actual < 0 {
		return 0
	}
	return uint16(actual)
}

// ValidateUnitID clamps a Modbus unit identifier to the valid [1,247]
// range, substituting the default unit 1 for anything out of range. This is
// a recoverable correction: callers log the substitution, nothing fails.
func ValidateUnitID(v int) byte {
	if v < 1 || v > 247 {
		return 1
	}
	return byte(v)
}
