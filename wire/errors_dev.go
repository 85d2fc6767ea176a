//go:build !production

package wire

// Development builds render protocol errors with a description and detail.
const descriptiveErrors = true
