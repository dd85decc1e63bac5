package main

import "github.com/agentloop-dev/agentloop/cmd"

func main() {
	cmd.Execute()
}
