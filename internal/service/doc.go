// Package service restarts systemd units and waits for them to come up.
package service
