// Package iproute converges the kernel's policy routing state to a plan. It
// owns rule priorities 1000-2999 and the uplink routing tables, shells out to
// ip(8) and sysctl(8) through an executor, and reads state back through an
// Inspector so a second pass over a converged kernel issues no mutating
// commands. Rules outside the owned priority range are never touched.
package iproute
