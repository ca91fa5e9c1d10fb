package main

import "github.com/audiolibrelab/stagedeck/cmd"

func main() {
	cmd.Execute()
}
