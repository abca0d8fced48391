package main

import (
	"github.com/tracertl/tracertl/command/root"
)

func main() {
	root.NewRootCommand().Execute()
}
