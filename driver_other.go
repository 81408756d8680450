//go:build !linux

package serial

const defaultDriver = "bugst"
