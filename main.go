package main

import "github.com/tanq16/novadl/cmd"

func main() {
	cmd.Execute()
}
