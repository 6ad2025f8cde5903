//go:build !unix

package utils

func isEXDEV(error) bool { return false }
