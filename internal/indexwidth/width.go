// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package indexwidth picks the narrowest unsigned integer width wide enough
// to hold a given maximum value, letting a pool's index stack use the
// smallest representation its block count actually needs.
package indexwidth

import "math"

// Width identifies one of the four unsigned integer widths chunkpool's
// index stack can be instantiated with.
type Width int

const (
	Width8 Width = iota
	Width16
	Width32
	Width64
)

// For returns the narrowest Width that can represent max.
func For(max uint64) Width {
	switch {
	case max <= math.MaxUint8:
		return Width8
	case max <= math.MaxUint16:
		return Width16
	case max <= math.MaxUint32:
		return Width32
	default:
		return Width64
	}
}
