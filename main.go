package main

import "github.com/audiolibrelab/vizcapture/cmd"

func main() {
	cmd.Execute()
}
