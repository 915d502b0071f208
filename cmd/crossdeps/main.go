package main

import "github.com/goplus/crossdeps/cmd/crossdeps/internal"

func main() {
	internal.Execute()
}
