//go:build production

package wire

// Production builds render protocol errors as bare codes.
const descriptiveErrors = false
