// Package common holds small helpers shared across client components.
package common

// WipeByteArray zeroes a sensitive buffer in place. Safe on nil.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
