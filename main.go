// ./main.go
package main

import (
	"github.com/xkilldash9x/usersim-cli/cmd"
)

// main is the entry point for the usersim CLI application.
func main() {
	cmd.Execute()
}
