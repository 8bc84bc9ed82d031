package main

import "Steward/client/steward-cli/cmd"

func main() {
	cmd.Execute()
}
