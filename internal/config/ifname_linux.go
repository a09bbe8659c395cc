//go:build linux

package config

import "golang.org/x/sys/unix"

// maxIfNameLen excludes the trailing NUL the kernel reserves in IFNAMSIZ.
const maxIfNameLen = unix.IFNAMSIZ - 1
