//go:build !linux

package search

import "os"

func adviseDontNeed(*os.File) {}
