// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chunkpool

// noCopy is a sentinel used to prevent copying of synchronization primitives.
// Embedding it in Resource makes `go vet -copylocks` flag accidental copies
// of a pool, which would silently duplicate (and desynchronize) its block
// array and index stack.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
