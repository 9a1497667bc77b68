// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// LockFile takes an exclusive advisory lock on f without blocking. If another
// open file description holds the lock the error wraps ErrLocked. The lock is
// held until UnlockFile or the file is closed.
func LockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return errors.Wrapf(ErrLocked, "%s", f.Name())
		}
		return errors.Wrapf(err, "flock %s", f.Name())
	}
	return nil
}

// UnlockFile releases the advisory lock taken by LockFile.
func UnlockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrapf(err, "funlock %s", f.Name())
	}
	return nil
}
