package main

import (
	"github.com/holdover-sh/holdover/internal/cmd"
)

func main() {
	cmd.Execute()
}
