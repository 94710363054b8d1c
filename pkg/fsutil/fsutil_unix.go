// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !windows

package fsutil

import "syscall"

var errCrossDevice error = syscall.EXDEV
