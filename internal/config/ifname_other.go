//go:build !linux

package config

const maxIfNameLen = 15
