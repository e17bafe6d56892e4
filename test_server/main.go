// A trivial target program for the e2e test: it only needs to compile into
// an executable with a .text section and a few named functions.
package main

import (
	"fmt"
	"os"
)

var banner = "binspy e2e fixture"

func greet(name string) string {
	return fmt.Sprintf("%s: hello %s", banner, name)
}

func main() {
	fmt.Println(greet("world"))
	os.Exit(0)
}
