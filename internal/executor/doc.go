// Package executor runs the system utilities nextrouter drives (ip, nft,
// sysctl, systemctl). Every kernel mutation goes through an Executor so that
// dry runs and tests can record the exact argv without touching the host.
package executor
