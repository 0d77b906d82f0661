package main

import "github.com/calder-ai/calder/cmd"

func main() {
	cmd.Execute()
}
