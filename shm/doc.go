// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package shm describes the shared memory window used by both processors.
// The window is divided into fixed sub-regions, whose offsets are running sums
// of the sizes of the preceding regions. The layout never changes after it has been computed.
package shm
